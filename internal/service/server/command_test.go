package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	api "github.com/oshokin/boot-installer/internal/api/grpc/installer"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/service/common"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

// idleService never runs anything.
type idleService struct{}

func (idleService) Execute(_ context.Context, req installer.Request) (*installer.Result, error) {
	return &installer.Result{Operation: req.Operation}, nil
}

func (idleService) Active() bool { return false }

// TestResolveListenAddress checks override precedence and address validation.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	addr, err := resolveListenAddress("127.0.0.1:50061", ":9090")
	require.NoError(t, err)
	require.Equal(t, ":9090", addr)

	addr, err = resolveListenAddress("127.0.0.1:50061", "")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:50061", addr)

	_, err = resolveListenAddress("", "")
	require.ErrorIs(t, err, ErrNoServerAddress)

	_, err = resolveListenAddress("localhost", "")
	require.Error(t, err)
}

// TestRun_InvalidAddress ensures Run fails before listening when the address is unusable.
func TestRun_InvalidAddress(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), &Options{Config: &config.Config{DataDir: t.TempDir()}})
	require.ErrorIs(t, err, ErrNoServerAddress)
}

// TestServe_GracefulStop serves a request and returns once the context is canceled.
func TestServe_GracefulStop(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- Serve(ctx, lis, api.NewServer(idleService{}, nil))
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	defer func() {
		_ = conn.Close()
	}()

	st, err := common.NewClient(conn).Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.Active)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
