package session

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// TestGuardTryEnterLeave verifies enter, reject, leave and re-enter.
func TestGuardTryEnterLeave(t *testing.T) {
	t.Parallel()

	g := new(Guard)

	require.True(t, g.TryEnter())
	require.False(t, g.TryEnter())
	require.True(t, g.Active())

	g.Leave()

	require.False(t, g.Active())
	require.True(t, g.TryEnter())
}

// TestGuardConcurrent ensures exactly one of many concurrent callers wins.
func TestGuardConcurrent(t *testing.T) {
	t.Parallel()

	var (
		g    Guard
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if g.TryEnter() {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

// TestMarkerHeldByLiveProcess checks that our own PID keeps the marker locked.
func TestMarkerHeldByLiveProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	m, err := AcquireMarker(ctx, nil, dir)
	require.NoError(t, err)

	_, err = AcquireMarker(ctx, nil, dir)
	require.ErrorIs(t, err, ErrMarkerHeld)

	require.NoError(t, m.Release())

	m, err = AcquireMarker(ctx, nil, dir)
	require.NoError(t, err)
	require.NoError(t, m.Release())
}

// TestMarkerStaleIsReplaced ensures a marker from a vanished process does not block.
func TestMarkerStaleIsReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, MarkerFilename)

	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	m, err := AcquireMarker(ctx, nil, dir)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(contents))
	require.NoError(t, m.Release())
}

// TestMarkerOnMemoryFilesystem verifies the marker lives on the injected
// filesystem: a live PID blocks, a garbage marker is replaced and Release
// removes the file.
func TestMarkerOnMemoryFilesystem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	dir := "/data/adb"
	path := filepath.Join(dir, MarkerFilename)

	m, err := AcquireMarker(ctx, fs, dir)
	require.NoError(t, err)

	contents, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(contents))

	_, err = AcquireMarker(ctx, fs, dir)
	require.ErrorIs(t, err, ErrMarkerHeld)

	require.NoError(t, m.Release())

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, afero.WriteFile(fs, path, []byte("-1"), 0o600))

	m, err = AcquireMarker(ctx, fs, dir)
	require.NoError(t, err)
	require.NoError(t, m.Release())

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}
