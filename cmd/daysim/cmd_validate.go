package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/daysim/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>...",
		Short: "Check configuration files against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err == nil {
					_, err = config.Parse(raw)
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d config files invalid", failed, len(args))
			}
			return nil
		},
	}
}
