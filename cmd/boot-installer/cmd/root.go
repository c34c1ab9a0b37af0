package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/service/installer"
	"github.com/oshokin/boot-installer/internal/version"
)

// EnvPrefix prefixes the environment variables overriding the settings file.
const EnvPrefix = "BOOT_INSTALLER"

var errUnknownLogLevel = errors.New("unknown log level")

// Override keys shared by flags and environment variables.
const (
	keyLogLevel         = "log-level"
	keyRecovery         = "recovery"
	keyKeepVerity       = "keep-verity"
	keyKeepForceEncrypt = "keep-force-encrypt"
	keyOutput           = "output"
	keyServer           = "server"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// overrides layers flags and BOOT_INSTALLER_* variables over the settings file.
	overrides = newOverrides()

	// rootCmd is the base command; operations are its subcommands.
	rootCmd = &cobra.Command{
		Use:   "boot-installer",
		Short: "Patch boot images and install them on the device.",
		Long: `Patches a boot image or a firmware archive, installs the patched image on the
current or the inactive slot, repairs the installed environment or removes it.

Settings are read from a YAML file. Flags and BOOT_INSTALLER_* environment
variables override single settings. With --server the operation runs on a
boot-installer daemon started with "serve".`,
		SilenceUsage: true,
	}
)

// Execute runs the boot-installer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.String(keyLogLevel, "", "log level (debug, info, warn, error)")
	flags.Bool(keyRecovery, false, "patch the recovery image instead of the boot image")
	flags.Bool(keyKeepVerity, false, "keep dm-verity enabled")
	flags.Bool(keyKeepForceEncrypt, false, "keep forced encryption enabled")
	flags.String(keyOutput, "", "directory or s3://bucket/prefix for patched files")
	flags.String(keyServer, "", "run the operation on the daemon at this address")

	for _, key := range []string{keyLogLevel, keyRecovery, keyKeepVerity, keyKeepForceEncrypt, keyOutput, keyServer} {
		_ = overrides.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(
		newPatchCommand(),
		newOperationCommand("install", "Patch the current boot image and flash it back.", installer.OpDirect),
		newOperationCommand("install-alt", "Patch the inactive slot and boot it next.", installer.OpSecondSlot),
		newOperationCommand("fix-env", "Reinstall the environment files.", installer.OpFixEnv),
		newOperationCommand("uninstall", "Remove the installation.", installer.OpUninstall),
		newServeCommand(),
		newInitConfigCommand(),
	)
}

func newOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the settings file and applies explicitly set overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	applyOverrides(overrides, cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	logger.SetLevel(level)

	return cfg, nil
}

// applyOverrides copies every override that was set by a flag or an environment variable.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet(keyLogLevel) {
		cfg.LogLevel = v.GetString(keyLogLevel)
	}

	if v.IsSet(keyRecovery) {
		cfg.Recovery = v.GetBool(keyRecovery)
	}

	if v.IsSet(keyKeepVerity) {
		cfg.KeepVerity = v.GetBool(keyKeepVerity)
	}

	if v.IsSet(keyKeepForceEncrypt) {
		cfg.KeepForceEncrypt = v.GetBool(keyKeepForceEncrypt)
	}

	if v.IsSet(keyOutput) {
		cfg.Output = v.GetString(keyOutput)
	}
}

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}
