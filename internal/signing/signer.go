package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/shlex"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/logger"
)

// Signer checks and produces legacy (AVB 1.0) boot image signatures.
type Signer interface {
	// Verify reports whether the image read from r carries a valid legacy signature.
	Verify(ctx context.Context, r io.Reader) (bool, error)
	// Sign writes a signed copy of in to out under the given partition label.
	Sign(ctx context.Context, in io.Reader, out io.Writer, label string) error
}

// Tool runs an external signer binary over temporary files.
type Tool struct {
	// argv starts the signer.
	argv []string
	// fs and tmpDir hold the temporary files.
	fs     afero.Fs
	tmpDir string
}

// NewTool parses command (split shell-style) and keeps temp files in tmpDir.
func NewTool(command, tmpDir string) (*Tool, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse signer command: %w", err)
	}

	if len(argv) == 0 {
		return nil, fmt.Errorf("parse signer command: %q is empty", command)
	}

	return &Tool{argv: argv, fs: afero.NewOsFs(), tmpDir: tmpDir}, nil
}

// Verify runs "<signer> -verify <image>". A non-zero exit means unsigned.
func (t *Tool) Verify(ctx context.Context, r io.Reader) (bool, error) {
	image, cleanup, err := t.spool(r, "verify-*")
	if err != nil {
		return false, err
	}
	defer cleanup()

	err = t.run(ctx, "-verify", image)

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr):
		logger.DebugKV(ctx, "Image is not signed", "exit_code", exitErr.ExitCode())
		return false, nil
	default:
		return false, fmt.Errorf("verify: %w", err)
	}
}

// Sign runs "<signer> <label> <in> <out>" and copies the result to out.
func (t *Tool) Sign(ctx context.Context, in io.Reader, out io.Writer, label string) error {
	input, cleanupInput, err := t.spool(in, "unsigned-*")
	if err != nil {
		return err
	}
	defer cleanupInput()

	signed, cleanupSigned, err := t.spool(bytes.NewReader(nil), "signed-*")
	if err != nil {
		return err
	}
	defer cleanupSigned()

	if err = t.run(ctx, label, input, signed); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	f, err := t.fs.Open(signed)
	if err != nil {
		return fmt.Errorf("open signed image: %w", err)
	}
	defer f.Close()

	if _, err = io.Copy(out, f); err != nil {
		return fmt.Errorf("copy signed image: %w", err)
	}

	return nil
}

func (t *Tool) run(ctx context.Context, args ...string) error {
	argv := append(append([]string(nil), t.argv[1:]...), args...)

	//nolint:gosec // The signer command comes from the operator's settings.
	cmd := exec.CommandContext(ctx, t.argv[0], argv...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		logger.Debug(ctx, stderr.String())
	}

	return err
}

// spool copies r into a new temp file and returns its name.
func (t *Tool) spool(r io.Reader, pattern string) (string, func(), error) {
	if t.tmpDir != "" {
		if err := t.fs.MkdirAll(t.tmpDir, 0o755); err != nil {
			return "", nil, err
		}
	}

	f, err := afero.TempFile(t.fs, t.tmpDir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}

	name := f.Name()
	cleanup := func() {
		if err := t.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf(context.Background(), "Unable to remove %s: %v", name, err)
		}
	}

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()

		return "", nil, fmt.Errorf("write temp file: %w", err)
	}

	if err = f.Close(); err != nil {
		cleanup()

		return "", nil, fmt.Errorf("write temp file: %w", err)
	}

	return name, cleanup, nil
}
