package config

import (
	"fmt"
	"time"

	"github.com/fluxorio/appbridge/pkg/core"
)

// Bus transports
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Bridge is the appbridge configuration document
type Bridge struct {
	AppID           string `yaml:"appId" json:"appId" toml:"appId"`
	ServiceName     string `yaml:"serviceName,omitempty" json:"serviceName,omitempty" toml:"serviceName,omitempty"`
	StrictLowMemory bool   `yaml:"strictLowMemory" json:"strictLowMemory" toml:"strictLowMemory"`

	Bus     BusConfig      `yaml:"bus" json:"bus" toml:"bus"`
	Loop    LoopConfig     `yaml:"loop" json:"loop" toml:"loop"`
	Log     core.LogConfig `yaml:"log" json:"log" toml:"log"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics" toml:"metrics"`
	Tracing TracingConfig  `yaml:"tracing" json:"tracing" toml:"tracing"`
}

// BusConfig selects and configures the bus transport
type BusConfig struct {
	Transport      string        `yaml:"transport" json:"transport" toml:"transport"` // "memory" or "nats"
	URL            string        `yaml:"url" json:"url" toml:"url"`
	Prefix         string        `yaml:"prefix" json:"prefix" toml:"prefix"`
	Name           string        `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" json:"connectTimeout" toml:"connectTimeout"`
	PendingLimit   int           `yaml:"pendingLimit" json:"pendingLimit" toml:"pendingLimit"`
}

// LoopConfig configures the host event loop
type LoopConfig struct {
	QueueSize int `yaml:"queueSize" json:"queueSize" toml:"queueSize"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" json:"listen" toml:"listen"`
}

// TracingConfig configures span export to stdout
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`
	Pretty  bool `yaml:"pretty" json:"pretty" toml:"pretty"`
}

// Default returns a Bridge with every optional setting filled in
func Default() *Bridge {
	return &Bridge{
		Bus: BusConfig{
			Transport:      TransportMemory,
			URL:            "nats://127.0.0.1:4222",
			Prefix:         "appbridge",
			ConnectTimeout: 2 * time.Second,
			PendingLimit:   256,
		},
		Loop: LoopConfig{QueueSize: 1024},
		Log:  core.LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
	}
}

// LoadBridge builds a Bridge from defaults, the optional file at path and
// APPBRIDGE_* environment variables, then validates it.
func LoadBridge(path string) (*Bridge, error) {
	cfg, err := ReadBridge(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadBridge is LoadBridge without validation, for callers that apply
// further overrides first
func ReadBridge(path string) (*Bridge, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvOverrides(DefaultEnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Bridge) Validate() error {
	if err := core.ValidateAppID(c.AppID); err != nil {
		return fmt.Errorf("validation failed: appId: %w", err)
	}
	if c.ServiceName != "" {
		if err := core.ValidateServiceName(c.ServiceName); err != nil {
			return fmt.Errorf("validation failed: serviceName: %w", err)
		}
	}

	validators := []Validator{
		OneOfValidator("Bus.Transport", TransportMemory, TransportNATS),
		RangeValidator("Loop.QueueSize", 1, 1<<20),
		RangeValidator("Bus.PendingLimit", 0, 1<<20),
		OneOfValidator("Log.Level", "", "debug", "info", "warn", "error"),
	}
	if c.Bus.Transport == TransportNATS {
		validators = append(validators,
			RequiredFields("Bus.URL", "Bus.Prefix"),
			ValidatorFunc(func(interface{}) error {
				return core.ValidateTimeout(c.Bus.ConnectTimeout)
			}),
		)
	}
	if c.Metrics.Enabled {
		validators = append(validators, RequiredFields("Metrics.Listen"))
	}
	return Validate(c, validators...)
}
