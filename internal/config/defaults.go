package config

import "time"

const (
	// DefaultFinalizerName is the finalizer steward controllers add when none is configured.
	DefaultFinalizerName = "steward.giantswarm.io/finalizer"

	// DefaultMetricsBindAddress is where Prometheus metrics are served.
	DefaultMetricsBindAddress = ":8080"

	// DefaultHealthBindAddress is where the liveness and readiness endpoints are served.
	DefaultHealthBindAddress = ":8081"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() StewardConfig {
	return StewardConfig{
		Operator: OperatorConfig{
			MetricsBindAddress: DefaultMetricsBindAddress,
			HealthBindAddress:  DefaultHealthBindAddress,
			CacheSyncTimeout:   Duration{2 * time.Minute},
		},
		Defaults: ControllerConfig{
			Workers:        10,
			InitialBackoff: Duration{time.Second},
			MaxBackoff:     Duration{5 * time.Minute},
			FinalizerName:  DefaultFinalizerName,
			ResyncInterval: Duration{10 * time.Minute},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
