package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"steward/internal/configbundle"
	"steward/internal/formatting"
	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
)

var (
	renderFile         string
	renderOutputFormat string
	renderQuiet        bool
)

// renderCmd previews the ConfigMap of a ConfigBundle manifest.
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a ConfigBundle manifest into the ConfigMap steward would write",
	Long: `Reads a ConfigBundle manifest and prints the ConfigMap the controller would
write for it, without connecting to a cluster.

spec.sourcePath is read from the local filesystem, so the preview matches what
the operator sees only when it runs with the same files.

Examples:
  steward render -f bundle.yaml
  steward render -f bundle.yaml -o yaml | kubectl diff -f -
  cat bundle.yaml | steward render -f -`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderFile, "filename", "f", "", "ConfigBundle manifest, - for stdin")
	renderCmd.Flags().StringVarP(&renderOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	renderCmd.Flags().BoolVarP(&renderQuiet, "quiet", "q", false, "Suppress non-essential output")
	_ = renderCmd.MarkFlagRequired("filename")
}

func runRender(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(renderOutputFormat)
	if err != nil {
		return err
	}

	data, err := readManifest(cmd, renderFile)
	if err != nil {
		return err
	}

	bundle := &stewardv1alpha1.ConfigBundle{}
	if err := yaml.UnmarshalStrict(data, bundle); err != nil {
		return fmt.Errorf("failed to parse %s: %w", renderFile, err)
	}
	if bundle.Kind != "" && bundle.Kind != "ConfigBundle" {
		return fmt.Errorf("%s contains a %s, expected a ConfigBundle", renderFile, bundle.Kind)
	}
	if bundle.Namespace == "" {
		bundle.Namespace = "default"
	}

	cm, err := configbundle.Preview(bundle)
	if err != nil {
		return err
	}
	return formatting.NewPrinter(cmd.OutOrStdout(), formatting.Options{Format: format, Quiet: renderQuiet}).ConfigMap(cm)
}

func readManifest(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
