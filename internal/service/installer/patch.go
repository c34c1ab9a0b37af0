package installer

import (
	"context"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/domain/boot"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/shell"
)

// signLabel is the partition label embedded in legacy signatures.
const signLabel = "/boot"

// patch runs the patch script on the target and re-signs the result when the
// original carried a legacy signature.
func (r *runner) patch(ctx context.Context) error {
	signature, err := r.checkSignature(ctx)
	if err != nil {
		return err
	}

	newBoot := r.workspaceFile(boot.PatchedImageName)

	if !r.useRootDir(ctx) {
		// The script writes into these, so they must exist beforehand.
		for _, name := range []string{boot.PatchedImageName, boot.StockImageName} {
			if err = r.createEmpty(r.workspaceFile(name)); err != nil {
				r.con.Add("! Unable to patch image")
				return fmt.Errorf("%w: %w", ErrPatchFailed, err)
			}
		}
	}

	res := r.opts.Shell.Run(ctx,
		"cd "+shell.Quote(r.dir),
		fmt.Sprintf("KEEPFORCEENCRYPT=%t KEEPVERITY=%t RECOVERYMODE=%t sh %s %s",
			r.cfg.KeepForceEncrypt, r.cfg.KeepVerity, r.cfg.Recovery,
			r.cfg.PatchScript, shell.Quote(r.target.Path)),
	)
	if !res.IsSuccess() {
		r.con.Add("! Unable to patch image")
		return fmt.Errorf("%s exited with %d: %w", r.cfg.PatchScript, res.Code, ErrPatchFailed)
	}

	job := []string{
		"cd " + shell.Quote(r.dir),
		"./" + r.cfg.PatchTool + " cleanup",
		"cd /",
	}

	if signature.NeedsResign() {
		r.enter(ctx, StateSigning)

		cmds, err := r.sign(ctx, newBoot)
		if err != nil {
			return err
		}

		job = append(job, cmds...)
	}

	if res = r.opts.Shell.Run(ctx, job...); !res.IsSuccess() {
		logger.WarnKV(ctx, "Patch tool cleanup failed", "exit_code", res.Code)
	}

	return nil
}

// checkSignature probes the target unless it is a character device.
func (r *runner) checkSignature(ctx context.Context) (boot.SignatureState, error) {
	if r.srcFS.IsCharDevice(ctx, r.target.Path) {
		return boot.SignatureUnknown, nil
	}

	src, err := r.srcFS.Open(ctx, r.target.Path)
	if err != nil {
		r.con.Add("! Unable to check signature")
		return boot.SignatureUnknown, fmt.Errorf("%w: %w", ErrSignatureCheck, err)
	}
	defer src.Close()

	signed, err := r.opts.Signer.Verify(ctx, src)
	if err != nil {
		r.con.Add("! Unable to check signature")
		return boot.SignatureUnknown, fmt.Errorf("%w: %w", ErrSignatureCheck, err)
	}

	if !signed {
		return boot.SignatureUnsigned, nil
	}

	r.con.Add("- Boot image is signed with AVB 1.0")

	return boot.SignatureLegacy, nil
}

// sign writes a signed copy of newBoot into the cache dir and puts it in place.
// On a relocated workspace the copy is spliced in by the returned commands;
// otherwise it replaces newBoot atomically right away.
func (r *runner) sign(ctx context.Context, newBoot string) ([]string, error) {
	r.con.Add("- Signing boot image with verity keys")

	signed, sum, err := r.signToCache(ctx, newBoot)
	if err != nil {
		r.con.Add("! Unable to sign image")
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	if r.ws != r.local {
		return []string{
			"cat " + shell.Quote(signed) + " > " + shell.Quote(newBoot),
			"rm -f " + shell.Quote(signed),
		}, nil
	}

	defer r.removeLocal(ctx, signed)

	f, err := r.opts.FS.Open(signed)
	if err != nil {
		r.con.Add("! Unable to sign image")
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	defer f.Close()

	err = goupdate.Apply(f, goupdate.Options{
		TargetPath: newBoot,
		TargetMode: 0o644,
		Checksum:   sum,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		r.con.Add("! Unable to sign image")
		return nil, fmt.Errorf("%w: replace %s: %w", ErrSigning, newBoot, err)
	}

	return nil, nil
}

func (r *runner) signToCache(ctx context.Context, newBoot string) (string, []byte, error) {
	if err := r.opts.FS.MkdirAll(r.cfg.CacheDir, execMode); err != nil {
		return "", nil, err
	}

	out, err := afero.TempFile(r.opts.FS, r.cfg.CacheDir, "signed*.img")
	if err != nil {
		return "", nil, err
	}

	name := out.Name()

	src, err := r.ws.Open(ctx, newBoot)
	if err != nil {
		_ = out.Close()
		r.removeLocal(ctx, name)

		return "", nil, err
	}
	defer src.Close()

	hash := sha256.New()

	err = r.opts.Signer.Sign(ctx, src, io.MultiWriter(out, hash), signLabel)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		r.removeLocal(ctx, name)
		return "", nil, err
	}

	return name, hash.Sum(nil), nil
}

func (r *runner) createEmpty(path string) error {
	f, err := r.opts.FS.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	return f.Close()
}

func (r *runner) removeLocal(ctx context.Context, path string) {
	if err := r.opts.FS.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove temporary file", "path", path, "error", err)
	}
}
