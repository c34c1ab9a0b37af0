package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/console"
	"github.com/oshokin/boot-installer/internal/domain/boot"
	"github.com/oshokin/boot-installer/internal/fsys"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/remote"
	"github.com/oshokin/boot-installer/internal/session"
	"github.com/oshokin/boot-installer/internal/shell"
	"github.com/oshokin/boot-installer/internal/signing"
	"github.com/oshokin/boot-installer/internal/storage"
)

// WorkspaceName is the workspace directory under the data directory.
const WorkspaceName = "install"

var errMissingDependency = errors.New("installer dependency is not set")

// Options are the collaborators of an Installer.
type Options struct {
	// Config holds validated installer settings.
	Config *config.Config
	// Shell runs privileged commands.
	Shell shell.Executor
	// FS is the local filesystem; defaults to the OS filesystem.
	FS afero.Fs
	// Privileged accesses device paths and a relocated workspace; defaults to the shell.
	Privileged fsys.FS
	// Signer probes and produces legacy signatures.
	Signer signing.Signer
	// Remote fetches the bootctl helper.
	Remote remote.Service
	// Destination receives patched files.
	Destination storage.Destination
	// Guard admits one installation at a time; defaults to session.Default.
	Guard *session.Guard
}

// Installer runs installation operations, one at a time.
type Installer struct {
	opts Options
}

// New checks opts and fills defaults.
func New(opts Options) (*Installer, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("%w: config", errMissingDependency)
	case opts.Shell == nil:
		return nil, fmt.Errorf("%w: shell", errMissingDependency)
	case opts.Signer == nil:
		return nil, fmt.Errorf("%w: signer", errMissingDependency)
	}

	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}

	if opts.Privileged == nil {
		opts.Privileged = fsys.NewPrivileged(opts.Shell)
	}

	if opts.Guard == nil {
		opts.Guard = session.Default
	}

	return &Installer{opts: opts}, nil
}

// Active reports whether an operation is running.
func (in *Installer) Active() bool {
	return in.opts.Guard.Active()
}

// Request describes one operation.
type Request struct {
	// Operation selects the sequence to run.
	Operation Operation
	// Input is the image or firmware archive for OpPatchFile.
	Input io.Reader
	// Console receives progress lines; a new one is created when nil.
	Console *console.Console
}

// Result reports what an operation did.
type Result struct {
	// Operation is the sequence that ran.
	Operation Operation
	// Session identifies the run in logs.
	Session string
	// States lists the states visited in order, ending in StateDone or StateFailed.
	States []State
	// Output is the location of the written file for OpPatchFile.
	Output string
	// Console holds every progress line.
	Console []string
}

// Execute runs req under the session guard. A second call while one runs is
// rejected with ErrSessionActive without waiting. Once started, an operation
// runs to completion or failure even if ctx is canceled; the caller may only
// abandon the result.
func (in *Installer) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	id := uuid.NewString()
	ctx = logger.WithName(ctx, "boot-installer")
	ctx = logger.WithFields(ctx, "session", id, "operation", req.Operation.String())

	con := req.Console
	if con == nil {
		con = console.New(logger.FromContext(ctx))
	}

	res := &Result{Operation: req.Operation, Session: id}

	if !in.opts.Guard.TryEnter() {
		logger.Warn(ctx, "Rejecting operation, another installation is running")
		con.Add("! Installation failed")
		res.States = []State{StateFailed}
		res.Console = con.Lines()

		return res, ErrSessionActive
	}
	defer in.opts.Guard.Leave()

	marker, err := session.AcquireMarker(ctx, in.opts.FS, in.opts.Config.DataDir)
	if err != nil {
		logger.WarnKV(ctx, "Unable to acquire installer marker", "error", err)
		con.Add("! Installation failed")
		res.States = []State{StateFailed}
		res.Console = con.Lines()

		return res, fmt.Errorf("%w: %w", ErrSessionActive, err)
	}

	defer func() {
		if err := marker.Release(); err != nil {
			logger.WarnKV(ctx, "Unable to release installer marker", "error", err)
		}
	}()

	ctx = shell.WithSink(ctx, con)
	r := newRunner(in.opts, con)

	err = r.operate(ctx, req)
	res.States = r.states
	res.Output = r.output

	if err != nil {
		if req.Operation != OpUninstall {
			r.removeWorkspace(ctx)
		}

		con.Add("! Installation failed")
		res.Console = con.Lines()
		logger.ErrorKV(ctx, "Installation failed", "error", err)

		return res, err
	}

	con.Add("- All done!")
	res.Console = con.Lines()
	logger.Info(ctx, "Installation completed")

	return res, nil
}

// runner holds the state of a single operation.
type runner struct {
	opts Options
	cfg  *config.Config
	con  *console.Console

	local *fsys.Local // Non-privileged accessor.
	ws    fsys.FS     // Accessor for workspace files, privileged after relocation.
	dir   string      // Current workspace directory.

	target boot.Target // Image the patch script works on.
	srcFS  fsys.FS     // Accessor for the target.

	rootDir *bool  // Cached answer of useRootDir.
	output  string // Location of the written artifact.

	state  State   // Current state.
	states []State // Every state entered, in order.
}

func newRunner(opts Options, con *console.Console) *runner {
	local := fsys.NewLocal(opts.FS)

	return &runner{
		opts:  opts,
		cfg:   opts.Config,
		con:   con,
		local: local,
		ws:    local,
		dir:   filepath.Join(opts.Config.DataDir, WorkspaceName),
		state: StateIdle,
	}
}

// operate runs the fixed sequence of req.Operation, stopping at the first failure.
func (r *runner) operate(ctx context.Context, req Request) error {
	var steps []step

	switch req.Operation {
	case OpPatchFile:
		if req.Input == nil {
			return r.fail(ctx, ErrNoInput)
		}

		steps = []step{
			{StateProvisioning, r.provision},
			// handleFile enters its own states once the input format is known.
			{StateIdle, func(ctx context.Context) error { return r.handleFile(ctx, req.Input) }},
		}
	case OpDirect:
		steps = []step{
			{StateResolving, r.findImage},
			{StateProvisioning, r.provision},
			{StatePatching, r.patch},
			{StateFlashing, r.flash},
		}
	case OpSecondSlot:
		steps = []step{
			{StateResolving, r.findSecondary},
			{StateProvisioning, r.provision},
			{StatePatching, r.patch},
			{StateFlashing, r.flash},
			{StatePostSlotSwitch, r.postOTA},
		}
	case OpFixEnv:
		steps = []step{
			{StateProvisioning, r.provision},
			{StateEnvFix, r.fixEnv},
		}
	case OpUninstall:
		steps = []step{
			{StateUninstalling, r.uninstall},
		}
	default:
		return r.fail(ctx, fmt.Errorf("%w: %d", ErrUnknownOperation, req.Operation))
	}

	for _, s := range steps {
		if s.state != StateIdle {
			r.enter(ctx, s.state)
		}

		if err := s.run(ctx); err != nil {
			return r.fail(ctx, fmt.Errorf("%s: %w", r.state, err))
		}
	}

	r.enter(ctx, StateDone)

	return nil
}

// step pairs a state with the work done in it.
type step struct {
	state State
	run   func(ctx context.Context) error
}

// enter records a transition. Steps that pass through optional states call it too.
func (r *runner) enter(ctx context.Context, s State) {
	if r.state == s {
		return
	}

	logger.DebugKV(ctx, "State transition", "from", r.state.String(), "to", s.String())

	r.state = s
	r.states = append(r.states, s)
}

func (r *runner) fail(ctx context.Context, err error) error {
	r.enter(ctx, StateFailed)
	return err
}

// useRootDir reports whether the workspace has to live on the privileged tmpfs.
func (r *runner) useRootDir(ctx context.Context) bool {
	if r.rootDir == nil {
		v := r.cfg.NoDataExec && r.opts.Shell.IsRoot(ctx)
		r.rootDir = &v
	}

	return *r.rootDir
}

// workspaceFile returns the path of name inside the workspace.
func (r *runner) workspaceFile(name string) string {
	return filepath.Join(r.dir, name)
}

// removeWorkspace deletes the workspace, ignoring errors.
func (r *runner) removeWorkspace(ctx context.Context) {
	if r.ws == r.opts.Privileged {
		r.opts.Shell.Run(context.WithoutCancel(ctx), "rm -rf "+shell.Quote(r.dir))
		return
	}

	if err := r.opts.FS.RemoveAll(r.dir); err != nil {
		logger.WarnKV(ctx, "Unable to remove workspace", "dir", r.dir, "error", err)
	}
}
