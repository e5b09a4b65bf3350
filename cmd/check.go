package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"steward/internal/config"
	"steward/internal/configbundle"
	"steward/internal/formatting"
)

var (
	checkConfigPath   string
	checkPrint        bool
	checkOutputFormat string
	checkQuiet        bool
)

// checkCmd validates the configuration without connecting to a cluster.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the steward configuration",
	Long: `Loads config.yaml, merges it with the defaults and validates the result,
then lists the effective settings of every controller.

All problems are reported at once. The command exits with status 2 when the
configuration is invalid.

Examples:
  steward check
  steward check -o yaml
  steward check --config-path /etc/steward --print`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkConfigPath, "config-path", "", "Configuration directory containing config.yaml")
	checkCmd.Flags().BoolVar(&checkPrint, "print", false, "Print the complete effective configuration file")
	checkCmd.Flags().StringVarP(&checkOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	checkCmd.Flags().BoolVarP(&checkQuiet, "quiet", "q", false, "Suppress non-essential output")
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(checkOutputFormat)
	if err != nil {
		return err
	}

	configPath := checkConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !checkPrint {
		if !checkQuiet && format == formatting.FormatTable {
			fmt.Fprintf(out, "Configuration in %s is valid\n", configPath)
		}
		printer := formatting.NewPrinter(out, formatting.Options{Format: format, Quiet: checkQuiet})
		return printer.Controllers(formatting.EffectiveSettings(cfg, configbundle.ControllerName))
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to print configuration: %w", err)
	}
	return enc.Close()
}
