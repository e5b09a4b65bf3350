// Package app provides application bootstrap and lifecycle management for steward.
//
// # Architecture Overview
//
// The app package is the layer between the CLI and the operator:
//
// 1. **Configuration (`config.go`)**: runtime flags and command line overrides
// 2. **Bootstrap (`bootstrap.go`)**: configuration loading, logging and the Application type
// 3. **Services (`services.go`)**: cluster connection, operator creation and controller registration
// 4. **Modes (`modes.go`)**: running the operator with signal handling
//
// # Bootstrap Sequence
//
//  1. Load config.yaml from ConfigPath (default ~/.config/steward) on top of the defaults
//  2. Apply command line overrides (--kubeconfig, --namespace, --workers, --debug)
//     and validate the result
//  3. Initialize logging at the configured level; controller-runtime logs share
//     the same handler
//  4. Build the REST config from --kubeconfig, $KUBECONFIG, the in-cluster
//     environment or ~/.kube/config, in that order
//  5. Create the operator and register every controller. A missing CRD fails
//     here, before anything is started
//
// # Execution
//
// Run blocks until the context is cancelled or SIGINT or SIGTERM arrives.
// Shutdown stops every controller: sources stop emitting, queued work is
// dropped and running dispatches are awaited. Finalizers of resources that
// were being deleted stay in place and are handled by the next process.
//
// # Usage
//
//	cfg := app.NewConfig(false, "")
//	cfg.Namespaces = []string{"team-a"}
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
