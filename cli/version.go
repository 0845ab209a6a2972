package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of plural-editor",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "plural-editor version %s\n", Version)

		if showFull, _ := cmd.Flags().GetBool("full"); showFull {
			if Commit != "" {
				fmt.Fprintf(out, "Git commit: %s\n", Commit)
			}
			if BuildDate != "" {
				fmt.Fprintf(out, "Build date: %s\n", BuildDate)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolP("full", "f", false, "Display full version information")
}
