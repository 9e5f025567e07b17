// Package cli wires the coverloop command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:     "coverloop",
	Version: Version,
	Short:   "Integration export engine for the Coverloop quote platform",
	Long: `Coverloop's integration export engine reacts to quote-lifecycle events
with configurable integrations: emails, webhooks and generated documents,
all assembled at runtime from per-product-release JSON configuration.`,
}

var settingsPath string

// Execute runs the root command. Called once from main.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "coverloop.yaml", "path to the settings file")
}
