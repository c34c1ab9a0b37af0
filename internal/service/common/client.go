//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/boot-installer/internal/api/grpc/installer"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

// Client calls a running installer daemon.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn grpc.ClientConnInterface
	// closer releases conn; nil when the caller owns the connection.
	closer func() error

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the installer daemon.
// Note: this uses insecure transport credentials; the daemon listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial installer daemon: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// Execute runs call on the daemon. A busy daemon yields installer.ErrSessionActive;
// a failed installation returns the decoded result with api.ErrRemoteFailed.
func (c *Client) Execute(ctx context.Context, call api.Call) (*installer.Result, error) {
	req, err := api.EncodeCall(call)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.ExecuteMethod, req, resp); err != nil {
		if status.Code(err) == codes.Aborted {
			return nil, fmt.Errorf("%w: %s", installer.ErrSessionActive, status.Convert(err).Message())
		}

		return nil, fmt.Errorf("execute %s: %w", call.Operation, err)
	}

	return api.DecodeResult(resp)
}

// Status reports the daemon state.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.StatusMethod, new(structpb.Struct), resp); err != nil {
		return api.Status{}, fmt.Errorf("get status: %w", err)
	}

	return api.DecodeStatus(resp), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
