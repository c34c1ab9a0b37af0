package archive

import (
	"bufio"
	"bytes"
	"errors"
)

// Format is the detected kind of an input file.
type Format uint8

const (
	// FormatRaw is a bare boot image.
	FormatRaw Format = iota
	// FormatTar is a ustar container.
	FormatTar
)

const (
	magicOffset = 257
	magicSize   = 5
)

// ErrInvalidInput is returned when the input is too short to be sniffed.
var ErrInvalidInput = errors.New("invalid input file")

// Sniff peeks at the tar magic without consuming anything from r.
func Sniff(r *bufio.Reader) (Format, error) {
	head, err := r.Peek(magicOffset + magicSize)
	if err != nil {
		return FormatRaw, ErrInvalidInput
	}

	if bytes.Equal(head[magicOffset:], []byte("ustar")) {
		return FormatTar, nil
	}

	return FormatRaw, nil
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatTar {
		return "tar"
	}

	return "img"
}
