package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-editor/config"
	"github.com/zhubert/plural-editor/paths"
)

// initCmd writes a starter configuration.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration with one state, an in-memory filesystem, the audit
extension and a freshly generated access token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if path == "" {
			p, err := paths.ConfigFilePath()
			if err != nil {
				return err
			}
			path = p
		}
		force, _ := cmd.Flags().GetBool("force")

		cfg := config.Starter()
		if err := cfg.Save(path, force); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Wrote %s\n", path)
		fmt.Fprintf(out, "Access token: %s\n", cfg.Tokens[0].Token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}
