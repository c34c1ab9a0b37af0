package setup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/boot-installer/internal/config"
)

// TestRun_WritesSettings saves defaults and lists every missing asset.
func TestRun_WritesSettings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "boot-installer.yaml")
	dataDir := filepath.Join(dir, "data")

	var out bytes.Buffer

	cfg, err := Run(context.Background(), &Options{ConfigPath: path, DataDir: dataDir, Stdout: &out})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dataDir, "assets"), cfg.AssetsDir)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, dataDir, loaded.DataDir)
	require.Equal(t, config.DefaultShell, loaded.Shell)

	require.Contains(t, out.String(), "Settings written to "+path)
	require.Contains(t, out.String(), "  boot_patch.sh\n")
	require.Contains(t, out.String(), "  "+filepath.Join("chromeos", "futility")+"\n")
}

// TestRun_ExistingSettings refuses to overwrite without Force and reports complete assets.
func TestRun_ExistingSettings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "boot-installer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /old\n"), 0o600))

	_, err := Run(context.Background(), &Options{ConfigPath: path, DataDir: dir, Stdout: new(bytes.Buffer)})
	require.ErrorIs(t, err, ErrConfigExists)

	assets := filepath.Join(dir, "assets")
	for _, name := range []string{
		"util_functions.sh",
		"boot_patch.sh",
		"addon.d.sh",
		"chromeos/futility",
		"chromeos/kernel_data_key.vbprivk",
		"chromeos/kernel.keyblock",
	} {
		p := filepath.Join(assets, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	var out bytes.Buffer

	_, err = Run(context.Background(), &Options{ConfigPath: path, DataDir: dir, Force: true, Stdout: &out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "All assets are in place in "+assets)
}

// TestRun_RequiresDataDir rejects settings without a data directory.
func TestRun_RequiresDataDir(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Options{
		ConfigPath: filepath.Join(t.TempDir(), "boot-installer.yaml"),
		Stdout:     new(bytes.Buffer),
	})
	require.Error(t, err)
}
