// Package config provides configuration management for steward.
//
// Configuration is loaded from a single directory containing config.yaml.
// The default directory is ~/.config/steward; commands accept --config-path
// to point elsewhere. A missing file yields GetDefaultConfig.
//
// # File Format
//
//	operator:
//	  namespaces: [team-a, team-b]     # all namespaces when empty
//	  metricsBindAddress: ":8080"      # "0" disables
//	  healthBindAddress: ":8081"
//	  cacheSyncTimeout: 2m
//	defaults:
//	  workers: 10                      # 0 means unbounded
//	  initialBackoff: 1s
//	  maxBackoff: 5m
//	  reconcileTimeout: 30s
//	  finalizerName: steward.giantswarm.io/finalizer
//	  resyncInterval: 10m
//	controllers:
//	  configbundle:
//	    workers: 4                     # overrides defaults.workers
//	logging:
//	  level: info
//
// Durations are Go duration strings; plain integers are read as seconds.
// Unknown fields are rejected.
//
// # Validation
//
// LoadConfig validates the merged result. All problems are reported at once
// as a *ConfigurationErrorCollection, whose GetDetailedReport output is what
// the CLI prints before exiting with status 2.
package config
