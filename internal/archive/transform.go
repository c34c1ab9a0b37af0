package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/boot-installer/internal/console"
	"github.com/oshokin/boot-installer/internal/domain/boot"
	"github.com/oshokin/boot-installer/internal/logger"
)

const (
	// copyBufferSize is the buffer used for passthrough members.
	copyBufferSize = 1 << 20
	// maxVBMetaSize bounds the in-memory copy of a vbmeta member.
	maxVBMetaSize = 1 << 20
)

// errVBMetaTooLarge is returned for vbmeta members above maxVBMetaSize.
var errVBMetaTooLarge = errors.New("vbmeta member is too large")

// StageFunc opens the workspace file a boot or recovery image is staged into.
type StageFunc func(ctx context.Context, name string) (io.WriteCloser, error)

// Staged records which images were pulled out of the archive.
type Staged struct {
	// Boot is the staged name of the boot image, empty if none was found.
	Boot string
	// Recovery is the staged name of the recovery image, empty if none was found.
	Recovery string
}

// Transformer rewrites a firmware tar: boot and recovery images are staged,
// vbmeta gets verification disabled, everything else is copied unchanged.
type Transformer struct {
	// Recovery enables staging of recovery images.
	Recovery bool
	// Stage opens staging files.
	Stage StageFunc
	// Console receives progress lines.
	Console console.Sink
}

// Transform streams in to out and reports what it staged. Staged images are
// not written to out; the caller appends their replacements afterwards.
func (t *Transformer) Transform(ctx context.Context, in io.Reader, out *tar.Writer) (*Staged, error) {
	t.Console.Add("- Processing tar file")

	var (
		staged = new(Staged)
		tr     = tar.NewReader(in)
		buf    = make([]byte, copyBufferSize)
	)

	for hdr, err := range Entries(tr) {
		if err != nil {
			return staged, err
		}

		switch boot.Classify(hdr.Name, t.Recovery) {
		case boot.BootImage, boot.RecoveryImage:
			name, err := t.stage(ctx, hdr.Name, tr)
			if err != nil {
				return staged, err
			}

			if name == boot.RecoveryImageName {
				staged.Recovery = name
			} else if name == boot.BootImageName {
				staged.Boot = name
			}
		case boot.VerificationMetadata:
			if err = t.patchVBMeta(ctx, hdr, tr, out); err != nil {
				return staged, err
			}
		default:
			t.Console.Add("-- Copying: " + hdr.Name)

			if err = out.WriteHeader(hdr); err != nil {
				return staged, fmt.Errorf("copy %s header: %w", hdr.Name, err)
			}

			if _, err = io.CopyBuffer(out, payload{tr}, buf); err != nil {
				return staged, fmt.Errorf("copy %s: %w", hdr.Name, err)
			}
		}
	}

	return staged, nil
}

func (t *Transformer) stage(ctx context.Context, member string, tr io.Reader) (string, error) {
	name, err := stagedName(member)
	if err != nil {
		return "", err
	}

	t.Console.Add("-- Extracting: " + name)

	src, err := decompressed(member, tr)
	if err != nil {
		return "", err
	}

	dst, err := t.Stage(ctx, name)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}

	logger.DebugKV(ctx, "Staged image", "name", name, "size", humanize.IBytes(uint64(written)))

	return name, nil
}

// patchVBMeta re-emits a vbmeta member with verification disabled. Members
// too short to hold a header are copied through untouched.
func (t *Transformer) patchVBMeta(ctx context.Context, hdr *tar.Header, tr io.Reader, out *tar.Writer) error {
	raw, err := readBounded(hdr.Name, tr)
	if err != nil {
		return err
	}

	src, err := decompressed(hdr.Name, bytes.NewReader(raw))
	if err != nil {
		return err
	}

	data, err := readBounded(hdr.Name, src)
	if err != nil {
		return err
	}

	if !boot.PatchVBMeta(data) {
		logger.DebugKV(ctx, "Passing short vbmeta member through", "name", hdr.Name, "size", len(data))
		t.Console.Add("-- Copying: " + hdr.Name)

		if err = out.WriteHeader(hdr); err != nil {
			return fmt.Errorf("copy %s header: %w", hdr.Name, err)
		}

		if _, err = out.Write(raw); err != nil {
			return fmt.Errorf("copy %s: %w", hdr.Name, err)
		}

		return nil
	}

	t.Console.Add("-- Patching: " + boot.VBMetaImageName)
	t.Console.Add("-- Writing: " + boot.VBMetaImageName)

	return WriteEntry(out, boot.VBMetaImageName, int64(len(data)), bytes.NewReader(data))
}

func readBounded(name string, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxVBMetaSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	if len(data) > maxVBMetaSize {
		return nil, fmt.Errorf("%s: %w", name, errVBMetaTooLarge)
	}

	return data, nil
}
