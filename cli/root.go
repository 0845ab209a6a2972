// Package cli implements the plural-editor command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-editor/config"
)

// v holds the configuration sources for the current invocation. Commands
// bind their flags to it in PreRun.
var v = config.NewViper()

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "plural-editor",
	Short: "Collaborative editor sync core",
	Long: `plural-editor keeps editor states in sync between clients.

It serves a JSON-RPC API and a websocket message channel over HTTP, exposes
named filesystems per state and runs extensions that react to every change.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is <config dir>/config.yaml)")
}

// configPath returns the --config flag value.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
