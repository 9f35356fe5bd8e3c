// Package config handles system monitor configuration loading.
//
// All settings come from the environment. A .env file in the working
// directory (or one named with -env) is loaded first; variables already
// present in the environment take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/nugget/system-monitor/internal/units"
)

// DefaultProgramName prefixes state topics and names the HA device.
const DefaultProgramName = "system_monitor"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all system monitor configuration.
type Config struct {
	ClientID          string      `yaml:"client_id" env:"CLIENT_ID" env-required:"true" env-description:"device identity used in topics"`
	ProgramName       string      `yaml:"program_name" env:"PROGRAM_NAME" env-default:"system_monitor"`
	ReportIntervalSec int         `yaml:"report_interval" env:"REPORT_INTERVAL" env-default:"5" env-description:"seconds between samples and publishes"`
	MQTT              MQTTConfig  `yaml:"mqtt"`
	Units             UnitsConfig `yaml:"units"`
	HTTPAddr          string      `yaml:"http_addr" env:"HTTP_ADDR" env-description:"status API listen address; empty disables it"`
	LogLevel          string      `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat         string      `yaml:"log_format" env:"LOG_FORMAT" env-default:"text"`
}

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	Host            string `yaml:"host" env:"MQTT_HOST" env-default:"localhost"`
	Port            uint16 `yaml:"port" env:"MQTT_PORT" env-default:"1883"`
	Username        string `yaml:"username" env:"MQTT_USERNAME" env-required:"true"`
	Password        string `yaml:"password" env:"MQTT_PASSWORD" env-required:"true"`
	TLS             bool   `yaml:"tls" env:"MQTT_TLS" env-default:"false"`
	KeepAliveSec    uint16 `yaml:"keepalive" env:"MQTT_KEEPALIVE" env-default:"30"`
	DiscoveryPrefix string `yaml:"discovery_prefix" env:"DISCOVERY_PREFIX" env-default:"homeassistant"`
}

// UnitsConfig selects display units per metric category.
type UnitsConfig struct {
	Memory    units.ByteUnit `yaml:"memory" env:"MEMORY_UNIT" env-default:"GB"`
	Storage   units.ByteUnit `yaml:"storage" env:"STORAGE_UNIT" env-default:"GB"`
	Network   units.ByteUnit `yaml:"network" env:"NETWORK_UNIT" env-default:"MB"`
	Precision uint           `yaml:"precision" env:"PRECISION" env-default:"2"`
}

// Interval returns the report interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.ReportIntervalSec) * time.Second
}

// Load reads configuration from the environment. If envFile is
// non-empty it must exist; otherwise ./.env is loaded when present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Optional; a missing .env is the normal case in containers.
		_ = godotenv.Load()
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that parse but make no sense.
func (c *Config) Validate() error {
	var errs []error

	if c.ClientID == "" {
		errs = append(errs, errors.New("CLIENT_ID must not be empty"))
	}
	if strings.ContainsAny(c.ClientID, "/+#") {
		errs = append(errs, fmt.Errorf("CLIENT_ID %q must not contain '/', '+' or '#'", c.ClientID))
	}
	if strings.ContainsAny(c.ProgramName, "/+#") || c.ProgramName == "" {
		errs = append(errs, fmt.Errorf("PROGRAM_NAME %q is not a valid topic segment", c.ProgramName))
	}
	if c.ReportIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("REPORT_INTERVAL must be positive, got %d", c.ReportIntervalSec))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("MQTT_HOST must not be empty"))
	}
	if c.MQTT.Port == 0 {
		errs = append(errs, errors.New("MQTT_PORT must not be zero"))
	}
	if c.Units.Precision > 10 {
		errs = append(errs, fmt.Errorf("PRECISION must be at most 10, got %d", c.Units.Precision))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.MQTT.Password != "" {
		c.MQTT.Password = "********"
	}
	return c
}

// Usage returns a description of every environment variable.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
