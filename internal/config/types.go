package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// StewardConfig is the top-level configuration structure for steward.
type StewardConfig struct {
	Operator OperatorConfig `yaml:"operator"`

	// Defaults apply to every controller unless overridden in Controllers.
	Defaults ControllerConfig `yaml:"defaults"`

	// Controllers holds per-controller overrides keyed by controller name.
	Controllers map[string]ControllerConfig `yaml:"controllers,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

// OperatorConfig configures the process that hosts the controllers.
type OperatorConfig struct {
	Kubeconfig         string   `yaml:"kubeconfig,omitempty"`         // Path to a kubeconfig, in-cluster config when empty
	Namespaces         []string `yaml:"namespaces,omitempty"`         // Watched namespaces, all when empty
	MetricsBindAddress string   `yaml:"metricsBindAddress,omitempty"` // "0" disables the metrics endpoint
	HealthBindAddress  string   `yaml:"healthBindAddress,omitempty"`  // "0" disables the health endpoints
	CacheSyncTimeout   Duration `yaml:"cacheSyncTimeout,omitempty"`
}

// ControllerConfig holds the tunables of one controller. Zero values mean
// "inherit" when used as an override.
type ControllerConfig struct {
	Workers          int      `yaml:"workers,omitempty"`
	InitialBackoff   Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff       Duration `yaml:"maxBackoff,omitempty"`
	ReconcileTimeout Duration `yaml:"reconcileTimeout,omitempty"`
	FinalizerName    string   `yaml:"finalizerName,omitempty"`
	ResyncInterval   Duration `yaml:"resyncInterval,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn or error
}

// For returns the effective configuration of the named controller.
func (c StewardConfig) For(name string) ControllerConfig {
	effective := c.Defaults
	override, ok := c.Controllers[name]
	if !ok {
		return effective
	}
	if override.Workers != 0 {
		effective.Workers = override.Workers
	}
	if override.InitialBackoff.Duration != 0 {
		effective.InitialBackoff = override.InitialBackoff
	}
	if override.MaxBackoff.Duration != 0 {
		effective.MaxBackoff = override.MaxBackoff
	}
	if override.ReconcileTimeout.Duration != 0 {
		effective.ReconcileTimeout = override.ReconcileTimeout
	}
	if override.FinalizerName != "" {
		effective.FinalizerName = override.FinalizerName
	}
	if override.ResyncInterval.Duration != 0 {
		effective.ResyncInterval = override.ResyncInterval
	}
	return effective
}

// Duration is a time.Duration written as a Go duration string ("30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if value.Tag == "!!int" {
		if err := value.Decode(&seconds); err != nil {
			return err
		}
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
