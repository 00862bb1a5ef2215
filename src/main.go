package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ryansname/bmsbridge/src/config"
	"github.com/ryansname/bmsbridge/src/supervisor"
	"github.com/ryansname/bmsbridge/src/telemetry"
)

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "bmsbridge",
	Short: "Bridge JBD battery BMS telemetry onto a Signal K MQTT bus",
	Long: `bmsbridge runs one BLE reader process per configured battery, turns its
reports into Signal K paths and publishes them as deltas over MQTT.
Batteries that stop reporting for a minute have their values nulled.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runBridge(cfg, debugMode)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the batteries it defines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default is ./bmsbridge.yaml or /etc/bmsbridge/bmsbridge.yaml)")
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "start the interactive debug console")

	rootCmd.AddCommand(runCmd, checkConfigCmd)
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}
	return config.Load(configPath)
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Configuration OK: %d batteries, refresh %gs\n", len(cfg.Batteries), cfg.Refresh)
	for _, b := range cfg.Batteries {
		fmt.Fprintf(w, "  %d  %-16s bus %s\n", b.ID, b.Name, b.Bus)
	}
	fmt.Fprintf(w, "Reader: %s %v <name> %g\n", cfg.Reader.Command, cfg.Reader.Args, cfg.Refresh)
	fmt.Fprintf(w, "MQTT: %s topic %s\n", cfg.MQTT.BrokerURL(), cfg.MQTT.Topic)
}

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or finished
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Error().Str("worker", name).Int("attempt", retries).Int("max", maxRetries).
				Interface("panic", panicValue).Msg("Worker panicked")

			if retries >= maxRetries {
				log.Error().Str("worker", name).Msg("Worker exhausted retries, shutting down")
				cancel()
				return
			}

			log.Warn().Str("worker", name).Dur("delay", delay).Msg("Worker will retry")
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func runBridge(cfg *config.Config, debug bool) error {
	var console io.Writer = os.Stderr
	if debug {
		console = rlWriter
	}
	if err := setupLogging(cfg.Log, console); err != nil {
		return err
	}

	log.Info().Int("batteries", len(cfg.Batteries)).Msg("Starting bmsbridge...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channels between workers
	mqttOutgoingChan := make(chan MQTTMessage, 100)
	mqttClientChan := make(chan mqtt.Client, 1) // Buffered to prevent blocking onConnect
	observerChan := make(chan []telemetry.Update, 10)
	statsChan := make(chan []telemetry.Update, 10)

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
	})

	mqttSender := NewMQTTSender(mqttOutgoingChan, cfg.MQTT.Topic)
	sink := telemetry.MultiSink{
		mqttSender,
		telemetry.ChanSink{Name: "observers", Ch: observerChan},
	}

	store := NewTelemetryStore()
	SafeGo(ctx, cancel, "stats-worker", func(ctx context.Context) {
		statsWorker(ctx, statsChan, store)
	})

	sup := supervisor.New(cfg.Supervisor(), sink)

	downstreamChans := []chan<- []telemetry.Update{statsChan}
	if debug {
		debugChan := make(chan []telemetry.Update, 10)
		downstreamChans = append(downstreamChans, debugChan)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan, sup, store)
		})
	}

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, observerChan, downstreamChans)
	})

	SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
		mqttWorker(ctx, cfg.MQTT, mqttClientChan)
	})

	if cfg.Status.Listen != "" {
		SafeGo(ctx, cancel, "status-server", func(ctx context.Context) {
			statusServerWorker(ctx, cfg.Status.Listen, sup, store)
		})
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}

	// Wait for interrupt signal or context cancellation (from panic or Ctrl+C in the console)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down...")
	case <-ctx.Done():
		log.Warn().Msg("Shutting down due to error...")
	}

	// Readers are stopped while the sender is still draining
	err := sup.Stop()
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
