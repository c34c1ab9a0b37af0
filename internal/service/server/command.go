package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"

	api "github.com/oshokin/boot-installer/internal/api/grpc/installer"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/service/common"
)

// Options controls the installer daemon.
type Options struct {
	// Config holds validated installer settings.
	Config *config.Config
	// ListenAddress overrides the server address from the settings.
	ListenAddress string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the gRPC daemon and blocks until ctx is canceled or the server stops.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "boot-installer-daemon")

	listenAddress, err := resolveListenAddress(opts.Config.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	svc, err := common.NewInstaller(ctx, opts.Config)
	if err != nil {
		return fmt.Errorf("initialise installer: %w", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	logger.InfoKV(ctx, "Installer daemon listening", "listen_address", listenAddress, "data_dir", opts.Config.DataDir)

	return Serve(ctx, lis, api.NewServer(svc, nil))
}

// Serve registers srv on a new gRPC server, serves lis and stops gracefully
// when ctx is canceled.
func Serve(ctx context.Context, lis net.Listener, srv api.InstallerServer) error {
	grpcServer := grpc.NewServer()
	api.Register(grpcServer, srv)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// resolveListenAddress returns override when set, otherwise the configured
// address as is. The daemon runs privileged operations, so the configured host
// is kept instead of binding every interface.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
