package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"steward/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies a custom configuration directory path.
// The directory should contain config.yaml.
var serveConfigPath string

// Overrides for values from config.yaml.
var (
	serveKubeconfig string
	serveNamespaces []string
	serveWorkers    int
)

// serveCmd runs the operator in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the steward operator",
	Long: `Starts the steward operator and all of its controllers.

The operator connects to the cluster, waits for its cache to sync and then
reconciles ConfigBundle resources into ConfigMaps. It runs until it receives
SIGINT or SIGTERM, then stops every controller and waits for running
reconciliations to finish.

Configuration:
  steward loads config.yaml from ~/.config/steward, or from the directory
  given with --config-path. Flags override the values from the file.

  The cluster is selected by --kubeconfig, $KUBECONFIG, the in-cluster
  service account or ~/.kube/config, in that order.

Metrics are served on the configured metricsBindAddress (default :8080) and
health endpoints on healthBindAddress (default :8081).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath)
	cfg.Kubeconfig = serveKubeconfig
	cfg.Namespaces = serveNamespaces
	cfg.Workers = serveWorkers

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Configuration directory containing config.yaml")
	serveCmd.Flags().StringVar(&serveKubeconfig, "kubeconfig", "", "Path to a kubeconfig file")
	serveCmd.Flags().StringSliceVarP(&serveNamespaces, "namespace", "n", nil, "Namespaces to watch (repeatable, all namespaces when unset)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Default number of concurrent reconciliations per controller")
}
