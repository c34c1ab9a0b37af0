package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/service/installer"
)

// Options contains inputs for the init-config entry point.
type Options struct {
	// ConfigPath is where the settings are written (defaults to boot-installer.yaml).
	ConfigPath string
	// DataDir is the private storage root of the installer.
	DataDir string
	// Force overwrites an existing settings file.
	Force bool
	// Stdout receives the next steps; defaults to os.Stdout.
	Stdout io.Writer
}

// ErrConfigExists is returned when the settings file exists and Force is not set.
var ErrConfigExists = errors.New("settings file already exists")

// Run writes default settings for DataDir and prints which assets are still missing.
func Run(ctx context.Context, opts *Options) (*config.Config, error) {
	ctx = logger.WithName(ctx, "boot-installer-setup")

	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigFilename
	}

	fs := afero.NewOsFs()

	if !opts.Force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return nil, fmt.Errorf("stat settings: %w", err)
		}

		if exists {
			return nil, fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	cfg := &config.Config{DataDir: opts.DataDir}
	if err := config.Save(path, cfg); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	logger.InfoKV(ctx, "Settings saved", "path", path, "data_dir", cfg.DataDir)

	missing, err := missingAssets(fs, cfg)
	if err != nil {
		return nil, err
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	_, err = io.WriteString(stdout, nextSteps(path, cfg, missing))

	return cfg, err
}

// missingAssets lists the asset files the installer copies that are not in place yet.
func missingAssets(fs afero.Fs, cfg *config.Config) ([]string, error) {
	names := installer.Scripts(cfg)
	for _, name := range installer.ChromeOSFiles() {
		names = append(names, filepath.Join(installer.ChromeOSDir, name))
	}

	var missing []string

	for _, name := range names {
		exists, err := afero.Exists(fs, filepath.Join(cfg.AssetsDir, name))
		if err != nil {
			return nil, fmt.Errorf("stat asset %s: %w", name, err)
		}

		if !exists {
			missing = append(missing, name)
		}
	}

	return missing, nil
}

// nextSteps renders human-readable guidance after the settings are written.
func nextSteps(path string, cfg *config.Config, missing []string) string {
	var builder strings.Builder

	builder.WriteString("Settings written to ")
	builder.WriteString(path)
	builder.WriteString(".\n")

	if len(missing) == 0 {
		builder.WriteString("All assets are in place in ")
		builder.WriteString(cfg.AssetsDir)
		builder.WriteString(".\n")
	} else {
		builder.WriteString("Copy the following files to ")
		builder.WriteString(cfg.AssetsDir)
		builder.WriteString(":\n")

		for _, name := range missing {
			builder.WriteString("  ")
			builder.WriteString(name)
			builder.WriteString("\n")
		}
	}

	builder.WriteString("Set bundle_path or native_lib_dir so the ")
	builder.WriteString(cfg.PatchTool)
	builder.WriteString(" binary can be found.\n")

	return builder.String()
}
