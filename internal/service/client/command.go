package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	api "github.com/oshokin/boot-installer/internal/api/grpc/installer"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/console"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/service/common"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

// Options configures one installer operation started from the command line.
type Options struct {
	// Config holds validated installer settings.
	Config *config.Config

	// ServerAddress sends the operation to a running daemon when set.
	ServerAddress string

	// Operation selects the sequence to run.
	Operation installer.Operation

	// InputPath names the image or firmware archive for the patch operation.
	InputPath string

	// Stdout receives console lines; defaults to os.Stdout.
	Stdout io.Writer
}

// Run executes the operation in process, or on the daemon when ServerAddress is set.
func Run(ctx context.Context, opts *Options) (*installer.Result, error) {
	ctx = logger.WithName(ctx, "boot-installer")

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	if opts.ServerAddress != "" {
		return runRemote(ctx, opts, stdout)
	}

	return runLocal(ctx, opts, stdout)
}

// runLocal runs the operation in this process, echoing progress as it happens.
func runLocal(ctx context.Context, opts *Options, stdout io.Writer) (*installer.Result, error) {
	svc, err := common.NewInstaller(ctx, opts.Config)
	if err != nil {
		return nil, err
	}

	// Lines are echoed to stdout, so they are not mirrored to the log.
	req := installer.Request{
		Operation: opts.Operation,
		Console:   console.New(nil, console.WithEcho(stdout)),
	}

	if opts.Operation == installer.OpPatchFile {
		input, err := os.Open(opts.InputPath)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}

		defer func() {
			_ = input.Close()
		}()

		req.Input = input
	}

	return svc.Execute(ctx, req)
}

// runRemote sends the operation to the daemon and prints its console afterwards.
func runRemote(ctx context.Context, opts *Options, stdout io.Writer) (*installer.Result, error) {
	actor, err := common.DetectActor()
	if err != nil {
		return nil, err
	}

	call := api.Call{
		Operation:   opts.Operation,
		RequestedBy: actor,
	}

	if opts.Operation == installer.OpPatchFile {
		// The daemon resolves the path on its own filesystem.
		call.InputPath, err = filepath.Abs(opts.InputPath)
		if err != nil {
			return nil, fmt.Errorf("resolve input path: %w", err)
		}
	}

	client, err := common.Dial(ctx, opts.ServerAddress, common.WithCallTimeout(opts.Config.Timeout))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(
		ctx,
		"Sending operation to daemon",
		"server_address",
		opts.ServerAddress,
		"operation",
		opts.Operation.String(),
	)

	res, err := client.Execute(ctx, call)
	if res != nil {
		for _, line := range res.Console {
			_, _ = fmt.Fprintln(stdout, line)
		}
	}

	return res, err
}
