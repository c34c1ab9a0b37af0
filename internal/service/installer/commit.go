package installer

import (
	"archive/tar"
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/archive"
	"github.com/oshokin/boot-installer/internal/domain/boot"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/shell"
	"github.com/oshokin/boot-installer/internal/storage"
	"github.com/oshokin/boot-installer/internal/version"
)

const (
	alphaNum     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLength = 5
)

// OutputName returns "<prefix>-<version code>_<5 random alphanumerics>.<ext>".
func OutputName(prefix string, format archive.Format) (string, error) {
	var b strings.Builder

	b.WriteString(prefix)
	b.WriteString("-")
	b.WriteString(version.Code)
	b.WriteString("_")

	limit := big.NewInt(int64(len(alphaNum)))

	for range suffixLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}

		b.WriteByte(alphaNum[n.Int64()])
	}

	b.WriteString(".")
	b.WriteString(format.String())

	return b.String(), nil
}

// handleFile patches a user-supplied image or firmware archive and writes the
// result to the destination.
func (r *runner) handleFile(ctx context.Context, input io.Reader) error {
	if r.opts.Destination == nil {
		return fmt.Errorf("%w: destination", errMissingDependency)
	}

	src := bufio.NewReader(input)

	format, err := archive.Sniff(src)
	if err != nil {
		r.con.Add("! Invalid input file")
		return ErrInvalidInput
	}

	name, err := OutputName(r.cfg.OutputPrefix, format)
	if err != nil {
		r.con.Add("! Process error")
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	out, err := r.opts.Destination.Create(ctx, name)
	if err != nil {
		r.con.Add("! Process error")
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	r.output = out.Location()

	var tw *tar.Writer

	if format == archive.FormatTar {
		r.enter(ctx, StateTransforming)
		tw = tar.NewWriter(out)
		err = r.processTar(ctx, src, tw)
	} else {
		r.enter(ctx, StateCopying)
		err = r.copyImage(ctx, src)
	}

	if err == nil {
		r.enter(ctx, StatePatching)
		err = r.patch(ctx)
	}

	if err == nil {
		r.enter(ctx, StateCommitting)
		err = r.commit(ctx, out, tw)
	}

	if err != nil {
		r.discard(ctx, out)
		return err
	}

	return r.finishFile(ctx)
}

// processTar rewrites the archive into tw and picks the patch target.
func (r *runner) processTar(ctx context.Context, src io.Reader, tw *tar.Writer) error {
	tf := &archive.Transformer{
		Recovery: r.cfg.Recovery,
		Stage: func(ctx context.Context, name string) (io.WriteCloser, error) {
			return r.ws.Create(ctx, r.workspaceFile(name))
		},
		Console: r.con,
	}

	staged, err := tf.Transform(ctx, src, tw)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to process archive", "error", err)
		r.con.Add("! Process error")

		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	r.srcFS = r.ws

	switch {
	case r.cfg.Recovery && staged.Recovery != "" && staged.Boot != "":
		r.target = boot.Target{Path: r.workspaceFile(staged.Recovery), Recovery: true}
		return r.repackBoot(ctx, tw)
	case staged.Boot == "":
		r.con.Add("! No boot image found")
		return ErrNoBootImage
	default:
		r.target = boot.Target{Path: r.workspaceFile(staged.Boot)}
		return nil
	}
}

// repackBoot strips restore markers from the stock boot image and writes it to
// the archive, so the device keeps a clean boot while recovery gets patched.
func (r *runner) repackBoot(ctx context.Context, tw *tar.Writer) error {
	tool := "./" + r.cfg.PatchTool

	res := r.opts.Shell.Run(ctx,
		"cd "+shell.Quote(r.dir),
		tool+" unpack "+boot.BootImageName,
		tool+" repack "+boot.BootImageName,
		"cat "+boot.PatchedImageName+" > "+boot.BootImageName,
		tool+" cleanup",
		"rm -f "+boot.PatchedImageName,
		"cd /",
	)
	if !res.IsSuccess() {
		logger.WarnKV(ctx, "Repacking stock boot image failed", "exit_code", res.Code)
	}

	bootPath := r.workspaceFile(boot.BootImageName)
	if err := r.appendEntry(ctx, tw, boot.BootImageName, bootPath); err != nil {
		r.con.Add("! Process error")
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	if err := r.ws.Remove(ctx, bootPath); err != nil {
		logger.WarnKV(ctx, "Unable to remove stock boot image", "error", err)
	}

	return nil
}

// copyImage stages a raw image as the patch target.
func (r *runner) copyImage(ctx context.Context, src io.Reader) error {
	r.target = boot.Target{Path: r.workspaceFile(boot.BootImageName)}
	r.srcFS = r.ws
	r.con.Add("- Copying image to cache")

	dst, err := r.ws.Create(ctx, r.target.Path)
	if err != nil {
		r.con.Add("! Process error")
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		r.con.Add("! Process error")
		return fmt.Errorf("%w: %w", ErrProcess, err)
	}

	logger.DebugKV(ctx, "Copied raw image", "size", humanize.IBytes(uint64(written)))

	return nil
}

// commit writes the patched image to out, as the last archive member when tw
// is set and as the whole file otherwise.
func (r *runner) commit(ctx context.Context, out storage.Artifact, tw *tar.Writer) error {
	newBoot := r.workspaceFile(boot.PatchedImageName)

	err := r.writeResult(ctx, out, tw, newBoot)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to write output", "location", out.Location(), "error", err)
		r.con.Add("! Failed to output to " + out.Location())

		return fmt.Errorf("%w: %w", ErrOutput, err)
	}

	if err = r.ws.Remove(ctx, newBoot); err != nil {
		logger.WarnKV(ctx, "Unable to remove patched image", "error", err)
	}

	r.con.Add("")
	r.con.Banner(" Output file is written to ", " "+out.Location()+" ")

	return nil
}

func (r *runner) writeResult(ctx context.Context, out storage.Artifact, tw *tar.Writer, newBoot string) error {
	if tw != nil {
		if err := r.appendEntry(ctx, tw, r.target.OutputEntryName(), newBoot); err != nil {
			return err
		}

		if err := tw.Close(); err != nil {
			return err
		}
	} else {
		src, err := r.ws.Open(ctx, newBoot)
		if err != nil {
			return err
		}

		_, err = io.Copy(out, src)
		if closeErr := src.Close(); err == nil {
			err = closeErr
		}

		if err != nil {
			return err
		}
	}

	return out.Close()
}

// appendEntry writes the workspace file at path as archive member name.
func (r *runner) appendEntry(ctx context.Context, tw *tar.Writer, name, path string) error {
	size, err := r.ws.Size(ctx, path)
	if err != nil {
		return err
	}

	src, err := r.ws.Open(ctx, path)
	if err != nil {
		return err
	}
	defer src.Close()

	r.con.Add("-- Writing: " + name)
	logger.DebugKV(ctx, "Writing archive member", "name", name, "size", humanize.IBytes(uint64(size)))

	return archive.WriteEntry(tw, name, size, src)
}

// discard deletes a partially written output.
func (r *runner) discard(ctx context.Context, out storage.Artifact) {
	if err := out.Delete(context.WithoutCancel(ctx)); err != nil {
		logger.WarnKV(ctx, "Unable to delete output", "location", out.Location(), "error", err)
	}

	r.output = ""
}

// finishFile drops the staged source and fixes up the workspace binaries.
func (r *runner) finishFile(ctx context.Context) error {
	if err := r.srcFS.Remove(ctx, r.target.Path); err != nil {
		logger.WarnKV(ctx, "Unable to remove source image", "error", err)
	}

	var res shell.Result
	if r.opts.Shell.IsRoot(ctx) {
		res = r.opts.Shell.Run(ctx, "fix_env "+shell.Quote(r.dir))
	} else {
		res = r.opts.Shell.Run(ctx, "cp_readlink "+shell.Quote(r.dir))
	}

	if !res.IsSuccess() {
		logger.WarnKV(ctx, "Unable to fix workspace binaries", "exit_code", res.Code)
	}

	return nil
}

// fixEnv repairs the installed environment from a fresh workspace.
func (r *runner) fixEnv(ctx context.Context) error {
	if res := r.opts.Shell.Run(ctx, "fix_env "+shell.Quote(r.dir)); !res.IsSuccess() {
		r.con.Add("! Unable to fix environment")
		return fmt.Errorf("fix_env: %w", ErrCommandFailed)
	}

	return nil
}

// uninstall hands over to the uninstaller script.
func (r *runner) uninstall(ctx context.Context) error {
	res := r.opts.Shell.Run(ctx, "run_uninstaller "+shell.Quote(r.cfg.UninstallerPath))
	if !res.IsSuccess() {
		r.con.Add("! Unable to uninstall")
		return fmt.Errorf("run_uninstaller: %w", ErrCommandFailed)
	}

	return nil
}

// postOTA downloads bootctl and marks the other slot active for the next boot.
func (r *runner) postOTA(ctx context.Context) error {
	bootctl, err := r.fetchBootctl(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Unable to download bootctl", "error", err)
		r.con.Add("! Unable to download bootctl")

		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if res := r.opts.Shell.Run(ctx, "post_ota "+shell.Quote(bootctl)); !res.IsSuccess() {
		logger.WarnKV(ctx, "post_ota failed", "exit_code", res.Code)
	}

	r.con.Add("***************************************")
	r.con.Add(" Next reboot will boot to second slot!")
	r.con.Add("***************************************")

	return nil
}

func (r *runner) fetchBootctl(ctx context.Context) (string, error) {
	if r.opts.Remote == nil {
		return "", fmt.Errorf("%w: remote", errMissingDependency)
	}

	if err := r.opts.FS.MkdirAll(r.cfg.CacheDir, execMode); err != nil {
		return "", err
	}

	body, err := r.opts.Remote.FetchBootctl(ctx)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := afero.TempFile(r.opts.FS, r.cfg.CacheDir, "bootctl")
	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = r.opts.FS.Chmod(f.Name(), execMode)
	}

	if err != nil {
		r.removeLocal(ctx, f.Name())
		return "", err
	}

	return f.Name(), nil
}
