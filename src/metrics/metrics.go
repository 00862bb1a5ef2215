// Package metrics holds the prometheus collectors shared by the bridge.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmsbridge_reports_total",
		Help: "Reports decoded and published, per battery",
	}, []string{"battery"})

	DecodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmsbridge_decode_errors_total",
		Help: "Report lines discarded because they could not be decoded",
	}, []string{"battery"})

	StaleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmsbridge_stale_transitions_total",
		Help: "Times a battery went stale and had its values invalidated",
	}, []string{"battery"})

	ReaderExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmsbridge_reader_exits_total",
		Help: "Reader process exits, per battery",
	}, []string{"battery"})

	SpawnErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmsbridge_spawn_errors_total",
		Help: "Reader processes that failed to launch",
	}, []string{"battery"})

	LastReport = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bmsbridge_last_report_timestamp_seconds",
		Help: "Unix time of the last decoded report, per battery",
	}, []string{"battery"})

	PublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bmsbridge_publish_errors_total",
		Help: "Update batches the sink rejected",
	})
)

// BatteryLabel formats a battery id as a metric label value
func BatteryLabel(id int) string {
	return strconv.Itoa(id)
}
