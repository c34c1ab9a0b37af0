package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/boot-installer/internal/service/setup"
)

// newInitConfigCommand writes a settings file with defaults.
func newInitConfigCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
	)

	command := &cobra.Command{
		Use:   "init-config",
		Short: "Write a settings file with defaults for a data directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			options := &setup.Options{
				ConfigPath: configPath,
				DataDir:    dataDir,
				Force:      force,
				Stdout:     cmd.OutOrStdout(),
			}

			_, err := setup.Run(ctx, options)

			return err
		},
	}

	command.Flags().StringVarP(&dataDir, "data-dir", "d", "", "private storage root of the installer")
	command.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing settings file")
	_ = command.MarkFlagRequired("data-dir")

	return command
}
