package telemetry

import (
	"encoding/json"
	"time"
)

// DeltaSource identifies this bridge in published deltas
const DeltaSource = "bmsbridge"

type deltaValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type deltaUpdate struct {
	Source    string       `json:"$source"`
	Timestamp string       `json:"timestamp"`
	Values    []deltaValue `json:"values"`
}

// Delta is a Signal K delta document carrying one batch of updates
type Delta struct {
	Updates []deltaUpdate `json:"updates"`
}

// NewDelta wraps a batch of updates in a single delta stamped at ts
func NewDelta(updates []Update, ts time.Time) Delta {
	values := make([]deltaValue, 0, len(updates))
	for _, u := range updates {
		values = append(values, deltaValue{Path: u.Path, Value: u.Value})
	}
	return Delta{
		Updates: []deltaUpdate{{
			Source:    DeltaSource,
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Values:    values,
		}},
	}
}

// MarshalDelta encodes a batch of updates as a Signal K delta
func MarshalDelta(updates []Update, ts time.Time) ([]byte, error) {
	return json.Marshal(NewDelta(updates, ts))
}
