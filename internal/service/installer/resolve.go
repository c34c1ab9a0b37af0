package installer

import (
	"context"
	"fmt"

	"github.com/oshokin/boot-installer/internal/domain/boot"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/shell"
)

// findImage targets the boot image of the current slot.
func (r *runner) findImage(ctx context.Context) error {
	path := r.opts.Shell.Output(ctx, `find_boot_image; echo "$BOOTIMAGE"`)

	return r.setDeviceTarget(ctx, path)
}

// findSecondary targets the boot image of the inactive slot. SLOT is only
// overridden for the lookup and restored right after.
func (r *runner) findSecondary(ctx context.Context) error {
	current := r.opts.Shell.Output(ctx, "echo $SLOT")

	slot, err := boot.AlternateSlot(current)
	if err != nil {
		r.con.Add("! Unable to detect target slot")
		return err
	}

	r.con.Add("- Target slot: " + slot.Suffix())
	logger.DebugKV(ctx, "Resolved alternate slot", "current", current, "target", slot.Suffix())

	path := r.opts.Shell.Output(ctx,
		"SLOT="+slot.Suffix(),
		"find_boot_image",
		"SLOT="+shell.Quote(current),
		`echo "$BOOTIMAGE"`,
	)

	return r.setDeviceTarget(ctx, path)
}

func (r *runner) setDeviceTarget(ctx context.Context, path string) error {
	if path == "" {
		r.con.Add("! Unable to detect target image")
		return ErrTargetNotFound
	}

	r.target = boot.Target{Path: path}
	r.srcFS = r.opts.Privileged
	r.con.Add("- Target image: " + path)
	logger.InfoKV(ctx, "Resolved target image", "path", path)

	return nil
}

// flash writes the patched image to the target partition.
func (r *runner) flash(ctx context.Context) error {
	res := r.opts.Shell.Run(ctx, "direct_install "+shell.Quote(r.dir)+" "+shell.Quote(r.target.Path))
	if !res.IsSuccess() {
		r.con.Add("! Unable to flash image")
		return fmt.Errorf("direct_install: %w", ErrCommandFailed)
	}

	return nil
}
