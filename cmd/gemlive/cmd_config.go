package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(flags *rootFlags) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.redacted()
			}
			out, err := cfg.marshal()
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print the API key unmasked")
	return cmd
}
