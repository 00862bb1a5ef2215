package telemetry

// Source is one configured battery monitoring target
type Source struct {
	ID   int    `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
	Bus  string `mapstructure:"bus" json:"bus"` // BLE adapter the reader should use, e.g. "hci0"
}
