package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/boot-installer/internal/service/server"
)

// newServeCommand runs the gRPC daemon.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [listen-address]",
		Short: "Run the installer daemon.",
		Long: `Starts the gRPC daemon that runs installer operations for clients started
with --server. Only one operation runs at a time; others are rejected.

The daemon listens on server_addr from the settings unless an address is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				Config:        cfg,
				ListenAddress: listenAddress,
			}

			return server.Run(ctx, options)
		},
	}
}
