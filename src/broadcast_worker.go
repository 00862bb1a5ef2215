package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

// broadcastWorker receives update batches and fans them out to the local observers.
// Slow observers miss batches rather than holding up the others.
func broadcastWorker(ctx context.Context, inputChan <-chan []telemetry.Update, outputChans []chan<- []telemetry.Update) {
	for {
		select {
		case batch := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- batch:
				case <-ctx.Done():
					return
				default:
					log.Warn().Int("observer", i).Msg("Observer channel full, dropping update batch")
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
