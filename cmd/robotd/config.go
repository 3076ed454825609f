package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robot-control/robotd/internal/config"
)

// newConfigCmd prints the effective configuration after the file and
// environment overrides are applied. Secrets are never printed.
func newConfigCmd(flags *globalFlags) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if check {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only validate the configuration")
	return cmd
}
