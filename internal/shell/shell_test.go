package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/console"
)

func newTestShell(t *testing.T, init ...string) *Shell {
	t.Helper()

	s, err := New(&config.Config{Shell: "sh", ShellInit: init}, WithDir(t.TempDir()))
	require.NoError(t, err)

	return s
}

// TestRunCollectsOutputAndExitCode verifies stdout lines, exit status and sink echo.
func TestRunCollectsOutputAndExitCode(t *testing.T) {
	t.Parallel()

	s := newTestShell(t, "GREETING=hello")
	sink := console.New(nil)
	ctx := WithSink(context.Background(), sink)

	res := s.Run(ctx, `echo "$GREETING"`, "echo oops >&2", "echo done", "exit 3")
	require.False(t, res.IsSuccess())
	require.Equal(t, 3, res.Code)
	require.Equal(t, []string{"hello", "done"}, res.Out)
	require.Equal(t, []string{"hello", "done"}, sink.Lines())

	res = s.Run(context.Background(), "true")
	require.True(t, res.IsSuccess())
}

// TestOutputReturnsLastLine checks the fast query form.
func TestOutputReturnsLastLine(t *testing.T) {
	t.Parallel()

	s := newTestShell(t)

	require.Equal(t, "_b", s.Output(context.Background(), "echo first", "echo ' _b '", "echo"))
	require.Empty(t, s.Output(context.Background(), "true"))
}

// TestStreamPassesRawBytes ensures stdin reaches the command untouched.
func TestStreamPassesRawBytes(t *testing.T) {
	t.Parallel()

	s := newTestShell(t, "echo should-not-appear")
	payload := strings.Repeat("\x00boot\n", 1024)

	var out bytes.Buffer

	require.NoError(t, s.Stream(context.Background(), "cat", strings.NewReader(payload), &out))
	require.Equal(t, payload, out.String())

	require.Error(t, s.Stream(context.Background(), "exit 1", nil, &out))
}

// TestNewRejectsEmptyShell verifies shell argv validation.
func TestNewRejectsEmptyShell(t *testing.T) {
	t.Parallel()

	_, err := New(&config.Config{Shell: " "})
	require.Error(t, err)
}

// TestQuote checks that quoted words survive the shell unchanged.
func TestQuote(t *testing.T) {
	t.Parallel()

	s := newTestShell(t)
	word := `it's a "boot" image $HOME`

	require.Equal(t, word, s.Output(context.Background(), "printf '%s\\n' "+Quote(word)))
}
