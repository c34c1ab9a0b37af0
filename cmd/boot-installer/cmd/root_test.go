package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/boot-installer/internal/config"
)

// TestApplyOverrides_OnlySetKeys ensures untouched settings keep their file values.
func TestApplyOverrides_OnlySetKeys(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		KeepVerity: true,
		Output:     "/sdcard/Download",
		LogLevel:   "info",
	}

	v := newOverrides()
	v.Set(keyRecovery, true)
	v.Set(keyOutput, "s3://images/patched")

	applyOverrides(v, cfg)

	require.True(t, cfg.Recovery)
	require.True(t, cfg.KeepVerity)
	require.Equal(t, "s3://images/patched", cfg.Output)
	require.Equal(t, "info", cfg.LogLevel)
}

// TestApplyOverrides_Environment reads BOOT_INSTALLER_* variables.
func TestApplyOverrides_Environment(t *testing.T) {
	t.Setenv("BOOT_INSTALLER_KEEP_FORCE_ENCRYPT", "true")
	t.Setenv("BOOT_INSTALLER_LOG_LEVEL", "debug")

	cfg := new(config.Config)
	applyOverrides(newOverrides(), cfg)

	require.True(t, cfg.KeepForceEncrypt)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.Recovery)
}

// TestRootCommand_Subcommands lists every operation exposed by the CLI.
func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"patch", "install", "install-alt", "fix-env", "uninstall", "serve", "init-config"} {
		require.True(t, names[want], want)
	}
}
