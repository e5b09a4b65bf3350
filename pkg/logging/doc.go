// Package logging provides the structured logging used across steward.
//
// It is a thin layer over Go's slog package: every entry carries a subsystem
// attribute, levels are filtered at the handler, and the same handler backs
// the controller-runtime logger so informer and cache output is formatted
// consistently with the rest of the process.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about operator activity
//   - **Warn**: Conditions that may need attention
//   - **Error**: Failed dispatches, rejected writes and other failures
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Scheduler", "Dispatching %s", id)
//	logging.Debug("Registry", "Registered source %s for %s", name, id)
//	logging.Warn("Registry", "No source named %s for %s", name, id)
//	logging.Error("Dispatcher", err, "Failed to remove finalizer from %s", id)
//
// Components that take a logr.Logger can obtain one tagged with their
// subsystem:
//
//	log := logging.Logr("Informer")
//	log.Info("synced", "kind", "ConfigBundle")
//
// # Subsystems
//
//   - **Operator**: Startup, cache sync and shutdown
//   - **Config**: Configuration loading and validation
//   - **Scheduler**: Per-resource serialization, coalescing and requeues
//   - **Dispatcher**: Finalizer protocol and reconciler invocation
//   - **Registry**: Event source registration and cleanup
//   - **Executor**: Bounded execution of dispatches
//
// # Controller-Runtime Integration
//
// InitForCLI installs a logr bridge via ctrl.SetLogger. controller-runtime
// accepts the first logger only, so the first InitForCLI call in a process
// determines where its output goes.
//
// # Thread Safety
//
// All functions are safe for concurrent use.
package logging
