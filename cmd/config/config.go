package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
)

// Command creates a command that prints the effective settings after the
// config file, environment and flags have been applied.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := ctx.Settings.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
