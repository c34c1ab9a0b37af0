//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	api "github.com/oshokin/boot-installer/internal/api/grpc/installer"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

var errTestFlash = errors.New("flash failed")

// stubService answers Execute with a canned result.
type stubService struct {
	res    *installer.Result
	err    error
	active bool
}

func (s *stubService) Execute(context.Context, installer.Request) (*installer.Result, error) {
	return s.res, s.err
}

func (s *stubService) Active() bool { return s.active }

// newBufClient serves svc over an in-memory listener and returns a client for it.
func newBufClient(t *testing.T, svc api.Service) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.Register(srv, api.NewServer(svc, nil))

	go func() {
		_ = srv.Serve(lis)
	}()

	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return NewClient(conn, WithCallTimeout(5*time.Second))
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_Execute covers success, failure and rejection over a real gRPC connection.
func TestClient_Execute(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		c := newBufClient(t, &stubService{res: &installer.Result{
			Operation: installer.OpUninstall,
			Session:   "s1",
			States:    []installer.State{installer.StateUninstalling, installer.StateDone},
			Console:   []string{"- All done!"},
		}})

		res, err := c.Execute(context.Background(), api.Call{Operation: installer.OpUninstall})
		require.NoError(t, err)
		require.Equal(t, "s1", res.Session)
		require.Equal(t, []string{"- All done!"}, res.Console)
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()

		c := newBufClient(t, &stubService{
			res: &installer.Result{
				Operation: installer.OpDirect,
				States:    []installer.State{installer.StateResolving, installer.StateFlashing, installer.StateFailed},
				Console:   []string{"! Unable to flash image", "! Installation failed"},
			},
			err: errTestFlash,
		})

		res, err := c.Execute(context.Background(), api.Call{Operation: installer.OpDirect})
		require.ErrorIs(t, err, api.ErrRemoteFailed)
		require.NotNil(t, res)
		require.Equal(t, "! Installation failed", res.Console[len(res.Console)-1])
	})

	t.Run("busy", func(t *testing.T) {
		t.Parallel()

		c := newBufClient(t, &stubService{res: new(installer.Result), err: installer.ErrSessionActive})

		_, err := c.Execute(context.Background(), api.Call{Operation: installer.OpFixEnv})
		require.ErrorIs(t, err, installer.ErrSessionActive)
	})
}

// TestClient_Status reads the daemon state.
func TestClient_Status(t *testing.T) {
	t.Parallel()

	c := newBufClient(t, &stubService{active: true})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, st.Active)
	require.NotEmpty(t, st.Version)
}

// TestNewInstaller builds an installer from validated settings.
func TestNewInstaller(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		DataDir: t.TempDir(),
		Shell:   "sh",
	}
	require.NoError(t, config.Validate(cfg))

	in, err := NewInstaller(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, in.Active())

	cfg.Signer = "'unterminated"

	_, err = NewInstaller(context.Background(), cfg)
	require.Error(t, err)
}
