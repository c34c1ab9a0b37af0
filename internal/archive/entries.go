package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Entries yields the members of tr in archive order. The sequence is single
// pass: the payload of a member must be consumed before asking for the next.
func Entries(tr *tar.Reader) iter.Seq2[*tar.Header, error] {
	return func(yield func(*tar.Header, error) bool) {
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}

			if err != nil {
				yield(nil, fmt.Errorf("read tar header: %w", err))
				return
			}

			if !yield(hdr, nil) {
				return
			}
		}
	}
}

// payload reads one member; it has no Close, so wrapping it never closes the
// shared archive stream.
type payload struct {
	io.Reader
}

// decompressed returns the uncompressed payload of the member called name.
func decompressed(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".lz4"):
		return payload{lz4.NewReader(payload{r})}, nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(payload{r})
		if err != nil {
			return nil, fmt.Errorf("open xz member %s: %w", name, err)
		}

		return payload{xr}, nil
	default:
		return payload{r}, nil
	}
}

// stagedName is the workspace file name for a member: compression suffixes
// are dropped and directories are ignored.
func stagedName(name string) (string, error) {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}

	base = strings.Replace(base, ".lz4", "", 1)
	base = strings.TrimSuffix(base, ".xz")

	if base == "" || base == "." || base == ".." {
		return "", fmt.Errorf("unsafe member name %q", name)
	}

	return base, nil
}

// WriteEntry appends a regular file member of exactly size bytes read from r.
func WriteEntry(tw *tar.Writer, name string, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0o644,
		ModTime:  time.Now().Truncate(time.Second),
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}

	if _, err := io.CopyN(tw, r, size); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}
