package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/boot-installer/internal/service/client"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

// newPatchCommand patches a user-supplied image or firmware archive.
func newPatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <file>",
		Short: "Patch a boot image or a firmware tar archive.",
		Long: `Patches a raw boot image or a firmware tar archive and writes the result to
the configured output. Archive members compressed with lz4 or xz are
decompressed, vbmeta.img has verification disabled, and everything else is
copied as is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, installer.OpPatchFile, args[0])
		},
	}
}

// newOperationCommand builds a subcommand that runs op without arguments.
func newOperationCommand(use, short string, op installer.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, op, "")
		},
	}
}

func runOperation(cmd *cobra.Command, op installer.Operation, inputPath string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	options := &client.Options{
		Config:        cfg,
		ServerAddress: overrides.GetString(keyServer),
		Operation:     op,
		InputPath:     inputPath,
		Stdout:        cmd.OutOrStdout(),
	}

	_, err = client.Run(ctx, options)

	return err
}
