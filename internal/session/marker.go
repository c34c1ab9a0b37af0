package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/logger"
)

// MarkerFilename is created in the data directory while an installation runs.
const MarkerFilename = "boot-installer.pid"

// ErrMarkerHeld is returned when another live process owns the marker.
var ErrMarkerHeld = errors.New("another installer process is running")

// Marker is a PID file that keeps a second installer process out of the workspace.
type Marker struct {
	// fs holds the marker file.
	fs afero.Fs
	// path is the marker file location.
	path string
}

// AcquireMarker creates the marker in dir on fs, or on the OS filesystem when
// fs is nil. A marker left by a process that no longer exists is treated as
// stale and replaced.
func AcquireMarker(ctx context.Context, fs afero.Fs, dir string) (*Marker, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	path := filepath.Join(dir, MarkerFilename)

	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create marker dir: %w", err)
	}

	for range 2 {
		err := writeMarker(fs, path)
		if err == nil {
			return &Marker{fs: fs, path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create marker: %w", err)
		}

		if isMarkerAlive(ctx, fs, path) {
			return nil, ErrMarkerHeld
		}

		logger.Info(ctx, "The installer marker is stale, removing it")

		if err = fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	}

	return nil, ErrMarkerHeld
}

// Release removes the marker. Calling it on a nil marker is a no-op.
func (m *Marker) Release() error {
	if m == nil {
		return nil
	}

	if err := m.fs.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func writeMarker(fs afero.Fs, path string) error {
	f, err := fs.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	if _, err = f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// isMarkerAlive reports whether the PID recorded in the marker is still running.
// Unreadable markers count as alive so we never steal a workspace by mistake.
func isMarkerAlive(ctx context.Context, fs afero.Fs, path string) bool {
	contents, err := afero.ReadFile(fs, filepath.Clean(path))
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		logger.Warnf(ctx, "Ignoring malformed installer marker %s", path)
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		logger.Warnf(ctx, "Unable to inspect process %d: %v", pid, err)
		return true
	}

	return process != nil
}
