package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/console"
	"github.com/oshokin/boot-installer/internal/logger"
)

// Result is the outcome of one job.
type Result struct {
	// Code is the exit status; -1 means the shell could not be started.
	Code int
	// Out holds the stdout lines in order.
	Out []string
}

// IsSuccess reports whether the job exited with status zero.
func (r Result) IsSuccess() bool {
	return r.Code == 0
}

// Executor runs commands with elevated privilege.
type Executor interface {
	// Run executes the commands as one job in a single shell.
	Run(ctx context.Context, cmds ...string) Result
	// Output runs the commands and returns the last non-empty stdout line.
	Output(ctx context.Context, cmds ...string) string
	// Stream runs cmd with the given stdin and stdout attached as raw byte streams.
	Stream(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer) error
	// IsRoot reports whether the shell runs as uid 0.
	IsRoot(ctx context.Context) bool
}

// Shell starts the configured privileged shell for every job.
type Shell struct {
	// argv starts the shell reading commands from stdin.
	argv []string
	// init is fed to the shell ahead of every job.
	init []string
	// dir is the working directory of the shell process.
	dir string

	rootOnce sync.Once
	root     bool
}

// Option configures a Shell.
type Option func(*Shell)

// WithDir sets the working directory of started shells.
func WithDir(dir string) Option {
	return func(s *Shell) {
		s.dir = dir
	}
}

// New builds a Shell from the installer settings.
func New(cfg *config.Config, opts ...Option) (*Shell, error) {
	argv, err := config.ShellArgs(cfg.Shell)
	if err != nil {
		return nil, err
	}

	s := &Shell{
		argv: argv,
		init: cfg.ShellInit,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run executes the commands as one job. Stdout lines go to the sink carried by
// ctx, stderr goes to the debug log.
func (s *Shell) Run(ctx context.Context, cmds ...string) Result {
	res := s.run(ctx, cmds)

	if sink := SinkFromContext(ctx); sink != nil {
		for _, line := range res.Out {
			sink.Add(line)
		}
	}

	return res
}

// Output runs the commands without echoing and returns the last non-empty line.
func (s *Shell) Output(ctx context.Context, cmds ...string) string {
	return LastLine(s.run(ctx, cmds).Out)
}

// Stream runs a single command passed with -c, so stdin and stdout carry
// nothing but the command's own bytes. The init commands are skipped.
func (s *Shell) Stream(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer) error {
	c := s.command(ctx, "-c", cmd)
	c.Stdin = stdin
	c.Stdout = stdout
	c.Stderr = &debugWriter{ctx: ctx}

	if err := c.Run(); err != nil {
		return fmt.Errorf("run %q: %w", firstWord(cmd), err)
	}

	return nil
}

// IsRoot reports whether the shell runs as uid 0. The answer is cached.
func (s *Shell) IsRoot(ctx context.Context) bool {
	s.rootOnce.Do(func() {
		s.root = s.Output(ctx, "id -u") == "0"
	})

	return s.root
}

func (s *Shell) command(ctx context.Context, extra ...string) *exec.Cmd {
	args := append(append([]string(nil), s.argv[1:]...), extra...)

	//nolint:gosec // The shell command comes from the operator's settings.
	c := exec.CommandContext(ctx, s.argv[0], args...)
	c.Dir = s.dir

	return c
}

func (s *Shell) run(ctx context.Context, cmds []string) Result {
	script := make([]string, 0, len(s.init)+len(cmds))
	script = append(script, s.init...)
	script = append(script, cmds...)

	logger.DebugKV(ctx, "Running shell job", "commands", cmds)

	c := s.command(ctx)
	c.Stdin = strings.NewReader(strings.Join(script, "\n") + "\n")
	c.Stderr = &debugWriter{ctx: ctx}

	stdout, err := c.StdoutPipe()
	if err != nil {
		logger.Errorf(ctx, "Unable to open shell stdout: %v", err)
		return Result{Code: -1}
	}

	if err = c.Start(); err != nil {
		logger.Errorf(ctx, "Unable to start shell: %v", err)
		return Result{Code: -1}
	}

	var out []string

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}

	err = c.Wait()

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		return Result{Code: 0, Out: out}
	case errors.As(err, &exitErr):
		return Result{Code: exitErr.ExitCode(), Out: out}
	default:
		logger.Errorf(ctx, "Shell job failed: %v", err)
		return Result{Code: -1, Out: out}
	}
}

// LastLine returns the last non-empty trimmed line.
func LastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

func firstWord(cmd string) string {
	if fields := strings.Fields(cmd); len(fields) > 0 {
		return fields[0]
	}

	return cmd
}

// debugWriter forwards stderr of external commands to the debug log line by line.
type debugWriter struct {
	ctx     context.Context //nolint:containedctx // Scoped to a single command.
	pending []byte
}

func (w *debugWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)

	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}

		logger.Debug(w.ctx, string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}

	return len(p), nil
}

type sinkKey struct{}

// WithSink returns a copy of ctx whose jobs echo their stdout to sink.
func WithSink(ctx context.Context, sink console.Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

// SinkFromContext returns the sink set by WithSink, or nil.
func SinkFromContext(ctx context.Context) console.Sink {
	sink, _ := ctx.Value(sinkKey{}).(console.Sink)
	return sink
}

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
