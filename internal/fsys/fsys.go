package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/shell"
)

// FS is file access that may need elevated privilege.
type FS interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	Exists(ctx context.Context, path string) bool
	Size(ctx context.Context, path string) (int64, error)
	Remove(ctx context.Context, path string) error
	IsCharDevice(ctx context.Context, path string) bool
}

// Local accesses files with the permissions of this process.
type Local struct {
	fs afero.Fs
}

// NewLocal wraps fs, or the OS filesystem when fs is nil.
func NewLocal(fs afero.Fs) *Local {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Local{fs: fs}
}

// Open opens path for reading.
func (l *Local) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return l.fs.Open(filepath.Clean(path))
}

// Create truncates or creates path for writing.
func (l *Local) Create(_ context.Context, path string) (io.WriteCloser, error) {
	return l.fs.Create(filepath.Clean(path))
}

// Exists reports whether path exists.
func (l *Local) Exists(_ context.Context, path string) bool {
	ok, err := afero.Exists(l.fs, path)
	return err == nil && ok
}

// Size returns the length of path in bytes.
func (l *Local) Size(_ context.Context, path string) (int64, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// Remove deletes path; a missing file is not an error.
func (l *Local) Remove(_ context.Context, path string) error {
	if err := l.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// IsCharDevice reports whether path is a character device.
func (l *Local) IsCharDevice(_ context.Context, path string) bool {
	info, err := l.fs.Stat(path)
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// Privileged accesses files through the privileged shell.
type Privileged struct {
	sh shell.Executor
}

// NewPrivileged returns an FS running every operation through sh.
func NewPrivileged(sh shell.Executor) *Privileged {
	return &Privileged{sh: sh}
}

// Open streams the file through cat.
func (p *Privileged) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(p.sh.Stream(ctx, "cat "+shell.Quote(path), nil, pw))
	}()

	return pr, nil
}

// Create streams writes into the file through cat. Close reports the
// command's exit status.
func (p *Privileged) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &streamWriter{pw: pw, done: make(chan error, 1)}

	go func() {
		err := p.sh.Stream(ctx, "cat > "+shell.Quote(path), pr, io.Discard)
		// Unblock writers if cat exits early.
		pr.CloseWithError(errWriterClosed(err))
		w.done <- err
	}()

	return w, nil
}

// Exists reports whether path exists.
func (p *Privileged) Exists(ctx context.Context, path string) bool {
	return p.sh.Run(ctx, "test -e "+shell.Quote(path)).IsSuccess()
}

// Size returns the length of path in bytes.
func (p *Privileged) Size(ctx context.Context, path string) (int64, error) {
	out := p.sh.Output(ctx, "stat -c %s "+shell.Quote(path))

	size, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	return size, nil
}

// Remove deletes path.
func (p *Privileged) Remove(ctx context.Context, path string) error {
	if res := p.sh.Run(ctx, "rm -f "+shell.Quote(path)); !res.IsSuccess() {
		return fmt.Errorf("rm %s: exit status %d", path, res.Code)
	}

	return nil
}

// IsCharDevice reports whether path is a character device.
func (p *Privileged) IsCharDevice(ctx context.Context, path string) bool {
	return p.sh.Run(ctx, "test -c "+shell.Quote(path)).IsSuccess()
}

type streamWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *streamWriter) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

func (w *streamWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}

	return <-w.done
}

func errWriterClosed(err error) error {
	if err == nil {
		return io.ErrClosedPipe
	}

	return err
}
