//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/remote"
	"github.com/oshokin/boot-installer/internal/service/installer"
	"github.com/oshokin/boot-installer/internal/shell"
	"github.com/oshokin/boot-installer/internal/signing"
	"github.com/oshokin/boot-installer/internal/storage"
)

// NewInstaller wires an Installer with the real shell, signer, fetcher and
// output destination described by cfg. cfg must already be validated.
func NewInstaller(ctx context.Context, cfg *config.Config) (*installer.Installer, error) {
	fs := afero.NewOsFs()

	sh, err := shell.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build shell: %w", err)
	}

	signer, err := signing.NewTool(cfg.Signer, cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	destination, err := storage.Open(ctx, cfg, fs)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	return installer.New(installer.Options{
		Config:      cfg,
		Shell:       sh,
		FS:          fs,
		Signer:      signer,
		Remote:      remote.NewFetcher(cfg.BootctlURL, remote.WithRegion(cfg.S3Region)),
		Destination: destination,
	})
}
