package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrorPrefix starts every line that reports a failure.
const ErrorPrefix = "!"

// Sink accepts user-facing progress lines.
type Sink interface {
	Add(line string)
}

// Console is an ordered, append-only line log that is safe for concurrent use.
type Console struct {
	mu sync.Mutex
	// lines keeps every line in the order it was added.
	lines []string
	// log mirrors lines to the structured logger.
	log *zap.SugaredLogger
	// echo receives each line as it arrives, if set.
	echo io.Writer
}

// Option configures a Console.
type Option func(*Console)

// WithEcho writes every added line to w followed by a newline.
func WithEcho(w io.Writer) Option {
	return func(c *Console) {
		c.echo = w
	}
}

// New returns a console mirroring its lines to log.
func New(log *zap.SugaredLogger, opts ...Option) *Console {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Console{log: log}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Add appends one line.
func (c *Console) Add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append(c.lines, line)

	if strings.HasPrefix(line, ErrorPrefix) {
		c.log.Error(line)
	} else {
		c.log.Info(line)
	}

	if c.echo != nil {
		//nolint:errcheck // Echo is best effort; the line is already recorded.
		fmt.Fprintln(c.echo, line)
	}
}

// Addf appends a formatted line.
func (c *Console) Addf(format string, args ...any) {
	c.Add(fmt.Sprintf(format, args...))
}

// Banner appends the lines framed by rows of asterisks.
func (c *Console) Banner(lines ...string) {
	const frame = "****************************"

	c.Add(frame)

	for _, line := range lines {
		c.Add(line)
	}

	c.Add(frame)
}

// Lines returns a snapshot of everything added so far.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.lines))
	copy(out, c.lines)

	return out
}
