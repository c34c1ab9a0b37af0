package installer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/shell"
	"github.com/oshokin/boot-installer/internal/version"
)

const (
	// ChromeOSDir holds the ChromeOS signing tools inside the workspace and the assets.
	ChromeOSDir = "chromeos"

	execMode = 0o755
)

var errNoLinker = errors.New("filesystem does not support symlinks")

// Scripts returns the scripts copied from the assets into the workspace.
func Scripts(cfg *config.Config) []string {
	return []string{"util_functions.sh", cfg.PatchScript, "addon.d.sh"}
}

// ChromeOSFiles lists the ChromeOS support files copied into the workspace.
func ChromeOSFiles() []string {
	return []string{"futility", "kernel_data_key.vbprivk", "kernel.keyblock"}
}

// provision recreates the workspace and fills it with tools and scripts.
func (r *runner) provision(ctx context.Context) error {
	r.con.Add("- Device platform: " + r.cfg.ABI)
	r.con.Addf("- Installing: %s (%d)", version.Short(), version.BuildCode())

	r.dir = filepath.Join(r.cfg.DataDir, WorkspaceName)
	r.ws = r.local

	if err := r.populate(ctx); err != nil {
		logger.ErrorKV(ctx, "Unable to provision workspace", "dir", r.dir, "error", err)
		r.con.Add("! Unable to extract files")

		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	if !r.useRootDir(ctx) {
		return nil
	}

	return r.relocate(ctx)
}

func (r *runner) populate(ctx context.Context) error {
	fs := r.opts.FS

	if err := fs.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}

	if err := fs.MkdirAll(r.dir, execMode); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	var err error
	if r.cfg.BundlePath != "" {
		err = r.extractBundle(ctx)
	} else {
		err = r.linkNativeLibs(ctx)
	}

	if err != nil {
		return err
	}

	for _, script := range Scripts(r.cfg) {
		if err = r.copyAsset(script); err != nil {
			return err
		}
	}

	if err = fs.MkdirAll(r.workspaceFile(ChromeOSDir), execMode); err != nil {
		return fmt.Errorf("create chromeos dir: %w", err)
	}

	for _, file := range ChromeOSFiles() {
		if err = r.copyAsset(path.Join(ChromeOSDir, file)); err != nil {
			return err
		}
	}

	return nil
}

// toolName maps libfoo.so to foo.
func toolName(lib string) (string, bool) {
	if !strings.HasPrefix(lib, "lib") || !strings.HasSuffix(lib, ".so") || len(lib) <= len("lib.so") {
		return "", false
	}

	return lib[len("lib") : len(lib)-len(".so")], true
}

// extractBundle copies lib/<abi32>/lib*.so out of the bundle.
func (r *runner) extractBundle(ctx context.Context) error {
	fs := r.opts.FS

	f, err := fs.Open(r.cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat bundle: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}

	prefix := "lib/" + r.cfg.ABI32 + "/"

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.HasPrefix(entry.Name, prefix) {
			continue
		}

		name, ok := toolName(path.Base(entry.Name))
		if !ok {
			continue
		}

		if err = r.extractZipEntry(entry, r.workspaceFile(name)); err != nil {
			return err
		}

		logger.DebugKV(ctx, "Extracted tool", "name", name)
	}

	return nil
}

func (r *runner) extractZipEntry(entry *zip.File, dst string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer src.Close()

	return r.writeFile(dst, src, execMode)
}

// linkNativeLibs links every lib*.so of the native library dir into the workspace.
func (r *runner) linkNativeLibs(ctx context.Context) error {
	linker, ok := r.opts.FS.(afero.Linker)
	if !ok {
		return errNoLinker
	}

	libs, err := afero.ReadDir(r.opts.FS, r.cfg.NativeLibDir)
	if err != nil {
		return fmt.Errorf("list native libs: %w", err)
	}

	for _, lib := range libs {
		name, ok := toolName(lib.Name())
		if !ok || lib.IsDir() {
			continue
		}

		if err = linker.SymlinkIfPossible(filepath.Join(r.cfg.NativeLibDir, lib.Name()), r.workspaceFile(name)); err != nil {
			return fmt.Errorf("link %s: %w", name, err)
		}

		logger.DebugKV(ctx, "Linked tool", "name", name)
	}

	return nil
}

func (r *runner) copyAsset(name string) error {
	src, err := r.opts.FS.Open(filepath.Join(r.cfg.AssetsDir, filepath.FromSlash(name)))
	if err != nil {
		return fmt.Errorf("open asset %s: %w", name, err)
	}
	defer src.Close()

	return r.writeFile(r.workspaceFile(filepath.FromSlash(name)), src, execMode)
}

func (r *runner) writeFile(dst string, src io.Reader, mode os.FileMode) error {
	f, err := r.opts.FS.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err = io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}

	return f.Close()
}

// relocate moves the workspace to the privileged tmpfs, keeping link targets.
func (r *runner) relocate(ctx context.Context) error {
	tmp := r.cfg.RootTmpDir
	q := shell.Quote

	res := r.opts.Shell.Run(ctx,
		"rm -rf "+q(tmp),
		"mkdir -p "+q(tmp),
		"cp_readlink "+q(r.dir)+" "+q(tmp),
		"rm -rf "+q(r.dir),
	)
	if !res.IsSuccess() {
		r.con.Add("! Unable to extract files")
		return fmt.Errorf("%w: relocate to %s: exit status %d", ErrExtraction, tmp, res.Code)
	}

	logger.InfoKV(ctx, "Workspace moved to privileged storage", "dir", tmp)

	r.dir = tmp
	r.ws = r.opts.Privileged

	return nil
}
