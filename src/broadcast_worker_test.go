package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

func TestBroadcastWorkerFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []telemetry.Update)
	a := make(chan []telemetry.Update, 1)
	b := make(chan []telemetry.Update, 1)
	go broadcastWorker(ctx, in, []chan<- []telemetry.Update{a, b})

	batch := []telemetry.Update{{Path: "electrical.batteries.house.voltage.1", Value: 13.1}}
	in <- batch

	for _, ch := range []chan []telemetry.Update{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, batch, got)
		case <-time.After(time.Second):
			t.Fatal("observer did not receive batch")
		}
	}
}

func TestBroadcastWorkerSkipsFullObserver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []telemetry.Update)
	full := make(chan []telemetry.Update) // never read
	ok := make(chan []telemetry.Update, 2)
	go broadcastWorker(ctx, in, []chan<- []telemetry.Update{full, ok})

	in <- []telemetry.Update{{Path: "a", Value: 1.0}}
	in <- []telemetry.Update{{Path: "b", Value: 2.0}}

	assert.Eventually(t, func() bool { return len(ok) == 2 }, time.Second, 5*time.Millisecond)
}
