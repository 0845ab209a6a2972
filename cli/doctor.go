package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-editor/config"
)

// doctorCmd checks that serve has what it needs.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration, log directory and extensions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath(cmd))
		results := CheckAll(DefaultPrerequisites(cfg, err))
		fmt.Fprint(cmd.OutOrStdout(), FormatCheckResults(results))
		return ValidateRequired(results)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
