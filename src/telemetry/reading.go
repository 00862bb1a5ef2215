package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Report keys as emitted by the BLE reader process
const (
	KeyTotalVoltage     = "Total Voltage"
	KeyNominalCapacity  = "Nominal Capacity J"
	KeyResidualCapacity = "Residual Capacity J"
	KeyCurrent          = "Current"
	KeyRSOC             = "RSOC"
	KeyCycleLife        = "Cycle Life"
	KeyTemperature      = "Temperature"
	KeyProtectionStatus = "Protection Status"
)

// Reading is the structured decode of a single report.
// A nil field means the report did not carry that value.
type Reading struct {
	TotalVoltage     *float64 // V
	NominalCapacity  *float64 // J
	ResidualCapacity *float64 // J
	Current          *float64 // A
	RSOC             *float64
	CycleLife        *float64
	Temperature      *float64 // K
	ProtectionStatus *float64 // raw BMS bitmask
}

// DecodeError is returned when a report line cannot be decoded.
// Raw holds the offending text so callers can log it.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode report %q: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Parse decodes one raw report into a Reading
func Parse(raw []byte) (Reading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &fields); err != nil {
		return Reading{}, &DecodeError{Raw: string(raw), Err: err}
	}
	if fields == nil {
		// Literal "null" unmarshals into a nil map without error
		return Reading{}, &DecodeError{Raw: string(raw), Err: fmt.Errorf("report is not an object")}
	}

	var r Reading
	targets := []struct {
		key string
		dst **float64
	}{
		{KeyTotalVoltage, &r.TotalVoltage},
		{KeyNominalCapacity, &r.NominalCapacity},
		{KeyResidualCapacity, &r.ResidualCapacity},
		{KeyCurrent, &r.Current},
		{KeyRSOC, &r.RSOC},
		{KeyCycleLife, &r.CycleLife},
		{KeyTemperature, &r.Temperature},
		{KeyProtectionStatus, &r.ProtectionStatus},
	}

	for _, t := range targets {
		value, ok := fields[t.key]
		if !ok {
			continue
		}
		v, err := decodeNumber(value)
		if err != nil {
			return Reading{}, &DecodeError{Raw: string(raw), Err: fmt.Errorf("field %q: %w", t.key, err)}
		}
		*t.dst = v
	}

	return r, nil
}

// decodeNumber accepts a JSON number, a string holding a number, or null
func decodeNumber(value json.RawMessage) (*float64, error) {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, err
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "None" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", x)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}
