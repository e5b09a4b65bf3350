package app

import (
	"steward/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the directory holding config.yaml.
	// Defaults to ~/.config/steward.
	ConfigPath string

	// Command line overrides, applied on top of the loaded configuration.
	Kubeconfig string
	Namespaces []string
	Workers    int

	// StewardConfig is the loaded configuration. NewApplication fills it
	// when nil.
	StewardConfig *config.StewardConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}

// applyOverrides copies command line overrides into the loaded configuration.
func (c *Config) applyOverrides() {
	if c.StewardConfig == nil {
		return
	}
	if c.Kubeconfig != "" {
		c.StewardConfig.Operator.Kubeconfig = c.Kubeconfig
	}
	if len(c.Namespaces) > 0 {
		c.StewardConfig.Operator.Namespaces = append([]string(nil), c.Namespaces...)
	}
	if c.Workers > 0 {
		c.StewardConfig.Defaults.Workers = c.Workers
	}
	if c.Debug {
		c.StewardConfig.Logging.Level = "debug"
	}
}
