package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/logger"
)

// errInvalidName is returned for names that would escape the destination.
var errInvalidName = errors.New("invalid artifact name")

// Artifact is an output being written. Delete removes whatever was written,
// whether or not the artifact was closed.
type Artifact interface {
	io.WriteCloser
	Delete(ctx context.Context) error
	Location() string
}

// Destination resolves output names to writable artifacts.
type Destination interface {
	Create(ctx context.Context, name string) (Artifact, error)
}

// Open picks the destination for cfg.Output: s3://bucket/prefix or a local directory.
func Open(ctx context.Context, cfg *config.Config, fs afero.Fs) (Destination, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if strings.HasPrefix(cfg.Output, "s3://") {
		bucket, prefix, err := ParseS3URL(cfg.Output)
		if err != nil {
			return nil, err
		}

		api, err := NewS3API(ctx, cfg.S3Region)
		if err != nil {
			return nil, err
		}

		return NewS3(api, bucket, prefix, WithStaging(fs, cfg.CacheDir)), nil
	}

	return NewLocalDir(fs, cfg.Output), nil
}

// ParseS3URL splits s3://bucket/key into bucket and key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", raw, err)
	}

	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("parse %q: not an s3 url", raw)
	}

	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func checkName(name string) error {
	if name == "" || name != path.Base(name) || name == ".." || name == "." {
		return fmt.Errorf("%w: %q", errInvalidName, name)
	}

	return nil
}

// LocalDir writes artifacts as files in one directory.
type LocalDir struct {
	fs  afero.Fs
	dir string
}

// NewLocalDir returns a destination writing into dir.
func NewLocalDir(fs afero.Fs, dir string) *LocalDir {
	return &LocalDir{fs: fs, dir: dir}
}

// Create opens <dir>/<name> for writing.
func (d *LocalDir) Create(ctx context.Context, name string) (Artifact, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	target := filepath.Join(d.dir, name)

	f, err := d.fs.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	logger.DebugKV(ctx, "Created output artifact", "path", target)

	return &localArtifact{File: f, fs: d.fs, path: target}, nil
}

type localArtifact struct {
	afero.File

	fs     afero.Fs
	path   string
	closed bool
}

func (a *localArtifact) Close() error {
	if a.closed {
		return nil
	}

	a.closed = true

	return a.File.Close()
}

func (a *localArtifact) Delete(_ context.Context) error {
	//nolint:errcheck // The file is removed next; a close error changes nothing.
	a.Close()

	if err := a.fs.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func (a *localArtifact) Location() string {
	return a.path
}
