package telemetry

import "fmt"

// Chemistry is reported for every battery; all supported packs are LiFePO4
const Chemistry = "LiFePO4"

// Canonical Signal K path templates, suffixed with the battery id
const (
	PathVoltage         = "electrical.batteries.house.voltage"
	PathName            = "electrical.batteries.house.name"
	PathNominalCapacity = "electrical.batteries.house.capacity.nominal"
	PathRemaining       = "electrical.batteries.house.capacity.remaining"
	PathCurrent         = "electrical.batteries.house.current"
	PathStateOfCharge   = "electrical.batteries.house.capacity.stateOfCharge"
	PathCycles          = "electrical.batteries.house.cycles"
	PathTemperature     = "electrical.batteries.house.capacity.temperature"
	PathProtection      = "electrical.batteries.house.protection"
	PathChemistry       = "electrical.batteries.house.chemistry"
)

// Update is a single canonical (path, value) pair. A nil Value is published as null.
type Update struct {
	Path  string
	Value any
}

// PathFor builds the canonical path for a template and battery id
func PathFor(template string, id int) string {
	return fmt.Sprintf("%s.%d", template, id)
}

// Map translates a Reading into the full canonical update set for src.
// Fields missing from the reading are mapped to nil so consumers always see every path.
func Map(r Reading, src Source) []Update {
	return []Update{
		{Path: PathFor(PathVoltage, src.ID), Value: optional(r.TotalVoltage)},
		{Path: PathFor(PathName, src.ID), Value: src.Name},
		{Path: PathFor(PathNominalCapacity, src.ID), Value: optional(r.NominalCapacity)},
		{Path: PathFor(PathRemaining, src.ID), Value: optional(r.ResidualCapacity)},
		{Path: PathFor(PathCurrent, src.ID), Value: optional(r.Current)},
		{Path: PathFor(PathStateOfCharge, src.ID), Value: optional(r.RSOC)},
		{Path: PathFor(PathCycles, src.ID), Value: optional(r.CycleLife)},
		{Path: PathFor(PathTemperature, src.ID), Value: optional(r.Temperature)},
		{Path: PathFor(PathProtection, src.ID), Value: optional(r.ProtectionStatus)},
		{Path: PathFor(PathChemistry, src.ID), Value: Chemistry},
	}
}

// Invalidate returns null updates for every canonical path of src
func Invalidate(src Source) []Update {
	updates := Map(Reading{}, src)
	for i := range updates {
		updates[i].Value = nil
	}
	return updates
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
