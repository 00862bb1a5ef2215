// Package config loads the bridge configuration from a YAML file, the
// environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ryansname/bmsbridge/src/reader"
	"github.com/ryansname/bmsbridge/src/supervisor"
	"github.com/ryansname/bmsbridge/src/telemetry"
)

// ReaderConfig controls how the BLE reader process is launched
type ReaderConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// MQTTConfig holds the telemetry bus connection settings
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// StatusConfig controls the HTTP status server. An empty Listen disables it.
type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig controls log level and optional rotated file output
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the complete bridge configuration
type Config struct {
	Batteries []telemetry.Source `mapstructure:"batteries"`
	Refresh   float64            `mapstructure:"refresh"` // seconds between reports
	Reader    ReaderConfig       `mapstructure:"reader"`
	MQTT      MQTTConfig         `mapstructure:"mqtt"`
	Status    StatusConfig       `mapstructure:"status"`
	Log       LogConfig          `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refresh", 1)
	v.SetDefault("reader.command", "python3")
	v.SetDefault("reader.args", []string{"-u", "python/ble_proc.py"})
	v.SetDefault("reader.stop_timeout", "5s")
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "bmsbridge")
	v.SetDefault("mqtt.topic", "signalk/delta")
	v.SetDefault("status.listen", ":9108")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. path may be empty, in which case bmsbridge.yaml
// is searched for in the working directory and /etc/bmsbridge.
// Environment variables prefixed BMSBRIDGE_ override file values; MQTT
// credentials are also read from MQTT_USERNAME and MQTT_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BMSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("mqtt.username", "BMSBRIDGE_MQTT_USERNAME", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "BMSBRIDGE_MQTT_PASSWORD", "MQTT_PASSWORD")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bmsbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bmsbridge/")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if len(c.Batteries) == 0 {
		return errors.New("at least one battery is required")
	}

	seen := make(map[int]bool, len(c.Batteries))
	for i, b := range c.Batteries {
		if seen[b.ID] {
			return fmt.Errorf("batteries[%d]: duplicate id %d", i, b.ID)
		}
		seen[b.ID] = true

		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("batteries[%d]: name is required", i)
		}
		if strings.TrimSpace(b.Bus) == "" {
			return fmt.Errorf("batteries[%d]: bus is required", i)
		}
	}

	if c.Refresh <= 0 {
		return fmt.Errorf("refresh must be positive, got %v", c.Refresh)
	}
	if c.Reader.Command == "" {
		return errors.New("reader.command is required")
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required")
	}
	return nil
}

// Supervisor builds the supervisor configuration
func (c *Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Sources: c.Batteries,
		Reader: reader.Options{
			Command:     c.Reader.Command,
			Args:        c.Reader.Args,
			Refresh:     c.Refresh,
			StopTimeout: c.Reader.StopTimeout,
		},
	}
}

// BrokerURL returns the paho broker address
func (m MQTTConfig) BrokerURL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}
