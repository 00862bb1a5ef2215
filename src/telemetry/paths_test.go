package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valuesByPath(updates []Update) map[string]any {
	m := make(map[string]any, len(updates))
	for _, u := range updates {
		m[u.Path] = u.Value
	}
	return m
}

func ptr(v float64) *float64 {
	return &v
}

func TestMap_FullReading(t *testing.T) {
	src := Source{ID: 2, Name: "Starboard", Bus: "hci0"}
	r := Reading{
		TotalVoltage:     ptr(13.3),
		NominalCapacity:  ptr(4752000),
		ResidualCapacity: ptr(3801600),
		Current:          ptr(-1.5),
		RSOC:             ptr(0.8),
		CycleLife:        ptr(42),
		Temperature:      ptr(293.15),
		ProtectionStatus: ptr(0),
	}

	updates := Map(r, src)
	require.Len(t, updates, 10)

	got := valuesByPath(updates)
	assert.Equal(t, map[string]any{
		"electrical.batteries.house.voltage.2":                13.3,
		"electrical.batteries.house.name.2":                   "Starboard",
		"electrical.batteries.house.capacity.nominal.2":       4752000.0,
		"electrical.batteries.house.capacity.remaining.2":     3801600.0,
		"electrical.batteries.house.current.2":                -1.5,
		"electrical.batteries.house.capacity.stateOfCharge.2": 0.8,
		"electrical.batteries.house.cycles.2":                 42.0,
		"electrical.batteries.house.capacity.temperature.2":   293.15,
		"electrical.batteries.house.protection.2":             0.0,
		"electrical.batteries.house.chemistry.2":              "LiFePO4",
	}, got)
}

func TestMap_PartialReportScenario(t *testing.T) {
	src := Source{ID: 1, Name: "House", Bus: "ble0"}
	r, err := Parse([]byte(`{"Total Voltage":13.2,"RSOC":87}`))
	require.NoError(t, err)

	got := valuesByPath(Map(r, src))
	require.Len(t, got, 10)

	assert.Equal(t, 13.2, got["electrical.batteries.house.voltage.1"])
	assert.Equal(t, 87.0, got["electrical.batteries.house.capacity.stateOfCharge.1"])
	assert.Equal(t, "House", got["electrical.batteries.house.name.1"])
	assert.Equal(t, "LiFePO4", got["electrical.batteries.house.chemistry.1"])

	for _, path := range []string{
		"electrical.batteries.house.capacity.nominal.1",
		"electrical.batteries.house.capacity.remaining.1",
		"electrical.batteries.house.current.1",
		"electrical.batteries.house.cycles.1",
		"electrical.batteries.house.capacity.temperature.1",
		"electrical.batteries.house.protection.1",
	} {
		v, ok := got[path]
		assert.True(t, ok, path)
		assert.Nil(t, v, path)
	}
}

func TestMap_Idempotent(t *testing.T) {
	src := Source{ID: 7, Name: "Bow", Bus: "hci1"}
	r := Reading{TotalVoltage: ptr(12.9), Current: ptr(3)}

	assert.Equal(t, Map(r, src), Map(r, src))
}

func TestInvalidate_NullsEveryPath(t *testing.T) {
	src := Source{ID: 3, Name: "Aft", Bus: "hci0"}

	updates := Invalidate(src)
	require.Len(t, updates, 10)

	mapped := Map(Reading{}, src)
	for i, u := range updates {
		assert.Equal(t, mapped[i].Path, u.Path)
		assert.Nil(t, u.Value, u.Path)
	}
}
