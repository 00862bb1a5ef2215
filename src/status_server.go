package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/supervisor"
)

// statusProvider is the part of the supervisor the status server reads
type statusProvider interface {
	Status() []supervisor.SourceStatus
}

// BatteryView is one entry of the /api/v1/batteries response
type BatteryView struct {
	supervisor.SourceStatus
	Values       map[string]any `json:"values"`
	VoltageMin1h *float64       `json:"voltage_min_1h,omitempty"`
	VoltageMax1h *float64       `json:"voltage_max_1h,omitempty"`
}

func newStatusRouter(sup statusProvider, store *TelemetryStore, now func() time.Time) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.GET("/batteries", func(c *gin.Context) {
		statuses := sup.Status()
		views := make([]BatteryView, 0, len(statuses))
		at := now()
		for _, st := range statuses {
			view := BatteryView{
				SourceStatus: st,
				Values:       store.BatteryValues(st.ID),
			}
			if minV, maxV, ok := store.VoltageRange(st.ID, at); ok {
				view.VoltageMin1h = &minV
				view.VoltageMax1h = &maxV
			}
			views = append(views, view)
		}
		c.JSON(http.StatusOK, views)
	})

	return router
}

// statusServerWorker serves the status API until ctx is cancelled
func statusServerWorker(ctx context.Context, listen string, sup statusProvider, store *TelemetryStore) {
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              listen,
		Handler:           newStatusRouter(sup, store, time.Now),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Status server shutdown failed")
		}
	}()

	log.Info().Str("listen", listen).Msg("Status server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("listen", listen).Msg("Status server failed")
		return
	}
	log.Info().Msg("Status server stopped")
}
