package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"steward/internal/config"
	"steward/pkg/logging"
)

// Application bootstraps and runs the steward operator.
//
// Initialization happens in two phases:
//  1. Bootstrap: load configuration, initialize logging, build the operator
//     and register controllers
//  2. Execution: run the operator until the context ends or a signal arrives
//
// Example usage:
//
//	cfg := app.NewConfig(true, "/etc/steward")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, initializes logging and creates
// the operator with all controllers registered. Configuration problems are
// returned as *config.ConfigurationErrorCollection, registration problems as
// *reconciler.ConfigurationError.
func NewApplication(cfg *Config) (*Application, error) {
	if err := cfg.load(); err != nil {
		return nil, err
	}
	initLogging(cfg, os.Stdout)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// load reads the configuration when it was not injected and applies the
// command line overrides. The result is validated again so that overrides
// cannot produce an invalid configuration.
func (c *Config) load() error {
	configPath := c.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	if c.StewardConfig == nil {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		c.StewardConfig = &loaded
	}

	c.applyOverrides()
	return config.Validate(*c.StewardConfig, configPath)
}

func initLogging(cfg *Config, output io.Writer) {
	level, _ := logging.ParseLevel(cfg.StewardConfig.Logging.Level)
	logging.InitForCLI(level, output)
	logging.Debug("Bootstrap", "Logging initialized at level %s", level)
}

// Run executes the application
//
// Blocks until ctx is cancelled, SIGINT or SIGTERM is received or the
// operator fails.
func (a *Application) Run(ctx context.Context) error {
	return runOperator(ctx, a.services)
}
