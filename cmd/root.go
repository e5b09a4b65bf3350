package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"steward/internal/config"
	"steward/internal/reconciler"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates invalid configuration or controller registration,
	// for example a missing CustomResourceDefinition. Retrying will not help.
	ExitCodeConfigError = 2
)

// rootCmd represents the base command for the steward application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Reconcile Kubernetes custom resources with per-resource event sources",
	Long: `steward runs Kubernetes controllers that react to cluster changes, files on
disk and timers. Each resource is reconciled by at most one worker at a time,
events that arrive while it is busy are coalesced into the next run, and
finalizers guarantee cleanup before a resource disappears.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "steward version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		printErrorDetails(err)
		os.Exit(getExitCode(err))
	}
}

// printErrorDetails writes the full report of configuration errors, which
// cobra's one-line error message does not include.
func printErrorDetails(err error) {
	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		fmt.Fprint(os.Stderr, collection.GetDetailedReport())
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		return ExitCodeConfigError
	}

	var configErr config.ConfigurationError
	if errors.As(err, &configErr) {
		return ExitCodeConfigError
	}

	if reconciler.IsConfigurationError(err) {
		return ExitCodeConfigError
	}

	// Default to general error
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
