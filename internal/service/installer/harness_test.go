package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/boot-installer/internal/archive"
	"github.com/oshokin/boot-installer/internal/config"
	"github.com/oshokin/boot-installer/internal/session"
	"github.com/oshokin/boot-installer/internal/shell"
	"github.com/oshokin/boot-installer/internal/storage"
)

// patchScript stands in for boot_patch.sh: it prefixes the source image.
const patchScript = `#!/bin/sh
[ -f "$1" ] || exit 2
grep -q BROKEN "$1" && exit 1
echo "- Patching $1 KEEPVERITY=$KEEPVERITY RECOVERYMODE=$RECOVERYMODE"
{ printf 'PATCHED:'; cat "$1"; } > new-boot.img
`

// toolScript stands in for the patch tool; repack prefixes the image.
const toolScript = `#!/bin/sh
echo "magiskboot $*" >> "%s"
case "$1" in
repack) { printf 'REPACKED:'; cat "$2"; } > new-boot.img ;;
esac
`

// fakeSigner treats images starting with AVB1 as signed.
type fakeSigner struct {
	// verifyErr is returned by Verify when set.
	verifyErr error
	// signErr is returned by Sign when set.
	signErr error
}

func (s *fakeSigner) Verify(_ context.Context, r io.Reader) (bool, error) {
	if s.verifyErr != nil {
		return false, s.verifyErr
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return false, nil //nolint:nilerr // Short images are unsigned.
	}

	return string(head) == "AVB1", nil
}

func (s *fakeSigner) Sign(_ context.Context, in io.Reader, out io.Writer, label string) error {
	if s.signErr != nil {
		return s.signErr
	}

	_, err := io.Copy(out, io.MultiReader(strings.NewReader("SIGNED"+label+":"), in))

	return err
}

// fakeRemote serves a fixed bootctl payload.
type fakeRemote struct {
	// err is returned instead of the payload when set.
	err error
}

func (f *fakeRemote) FetchBootctl(context.Context) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}

	return io.NopCloser(strings.NewReader("bootctl-binary")), nil
}

// harness is a throwaway device: a data dir, assets, fake helper functions
// defined in the shell init, and a local output directory.
type harness struct {
	root   string
	cfg    *config.Config
	signer *fakeSigner
	remote *fakeRemote
	guard  *session.Guard
	outDir string
}

func newHarness(t *testing.T, tweak ...func(h *harness)) *harness {
	t.Helper()

	root := t.TempDir()
	h := &harness{
		root:   root,
		signer: new(fakeSigner),
		remote: new(fakeRemote),
		guard:  new(session.Guard),
		outDir: filepath.Join(root, "out"),
	}

	writeFile(t, filepath.Join(root, "assets", "util_functions.sh"), "# util", 0o644)
	writeFile(t, filepath.Join(root, "assets", "boot_patch.sh"), patchScript, 0o755)
	writeFile(t, filepath.Join(root, "assets", "addon.d.sh"), "# addon", 0o644)

	for _, name := range ChromeOSFiles() {
		writeFile(t, filepath.Join(root, "assets", ChromeOSDir, name), name, 0o644)
	}

	writeFile(t, filepath.Join(root, "lib", "libmagiskboot.so"),
		strings.Replace(toolScript, "%s", h.callsPath(), 1), 0o755)
	writeFile(t, filepath.Join(root, "lib", "README"), "not a tool", 0o644)

	writeFile(t, h.device("boot_a"), "boot-a-image", 0o644)
	writeFile(t, h.device("boot_b"), "boot-b-image", 0o644)

	h.cfg = &config.Config{
		DataDir:         filepath.Join(root, "data"),
		CacheDir:        filepath.Join(root, "cache"),
		RootTmpDir:      filepath.Join(root, "tmpfs"),
		AssetsDir:       filepath.Join(root, "assets"),
		NativeLibDir:    filepath.Join(root, "lib"),
		ABI:             "arm64-v8a",
		ABI32:           "armeabi-v7a",
		Shell:           "sh",
		UninstallerPath: "/data/app/installer.apk",
		ShellInit: []string{
			`CALLS=` + shell.Quote(h.callsPath()),
			`log_call() { echo "$*" >> "$CALLS"; }`,
			`id() { echo 1000; }`,
			`SLOT=_a`,
			`find_boot_image() { case "$SLOT" in _a) BOOTIMAGE=` + shell.Quote(h.device("boot_a")) +
				` ;; _b) BOOTIMAGE=` + shell.Quote(h.device("boot_b")) + ` ;; *) BOOTIMAGE= ;; esac; }`,
			`fix_env() { log_call fix_env "$@"; }`,
			`cp_readlink() { log_call cp_readlink "$@"; if [ -n "$2" ]; then cp -a "$1"/. "$2"/; fi; }`,
			`direct_install() { log_call direct_install "$@"; cat "$1/new-boot.img" > "$2"; }`,
			`post_ota() { log_call post_ota "$@"; }`,
			`run_uninstaller() { log_call run_uninstaller "$@"; }`,
		},
	}

	for _, fn := range tweak {
		fn(h)
	}

	require.NoError(t, config.Validate(h.cfg))

	return h
}

// holdPatch makes the patch script create gate+".waiting" and then wait until
// gate exists before patching.
func (h *harness) holdPatch(t *testing.T, gate string) {
	t.Helper()

	script := strings.Replace(patchScript, "#!/bin/sh\n",
		"#!/bin/sh\n: > "+shell.Quote(gate+".waiting")+"\n"+
			"while [ ! -e "+shell.Quote(gate)+" ]; do sleep 0.05; done\n", 1)
	writeFile(t, filepath.Join(h.root, "assets", "boot_patch.sh"), script, 0o755)
}

func (h *harness) device(name string) string {
	return filepath.Join(h.root, "dev", name)
}

func (h *harness) callsPath() string {
	return filepath.Join(h.root, "calls.log")
}

func (h *harness) workspace() string {
	return filepath.Join(h.cfg.DataDir, WorkspaceName)
}

func (h *harness) installer(t *testing.T) *Installer {
	t.Helper()

	sh, err := shell.New(h.cfg)
	require.NoError(t, err)

	inst, err := New(Options{
		Config:      h.cfg,
		Shell:       sh,
		FS:          afero.NewOsFs(),
		Signer:      h.signer,
		Remote:      h.remote,
		Destination: storage.NewLocalDir(afero.NewOsFs(), h.outDir),
		Guard:       h.guard,
	})
	require.NoError(t, err)

	return inst
}

func (h *harness) run(t *testing.T, op Operation, input []byte) (*Result, error) {
	t.Helper()

	req := Request{Operation: op}
	if input != nil {
		req.Input = bytes.NewReader(input)
	}

	return h.installer(t).Execute(context.Background(), req)
}

func (h *harness) calls(t *testing.T) string {
	t.Helper()

	data, err := os.ReadFile(h.callsPath())
	if errors.Is(err, os.ErrNotExist) {
		return ""
	}

	require.NoError(t, err)

	return string(data)
}

func (h *harness) outputs(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(h.outDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func writeFile(t *testing.T, path, contents string, mode os.FileMode) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), mode))
}

// tarMember is one member of a synthetic firmware archive.
type tarMember struct {
	name string
	data []byte
}

func buildTar(t *testing.T, members ...tarMember) []byte {
	t.Helper()

	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)
	for _, m := range members {
		require.NoError(t, archive.WriteEntry(tw, m.name, int64(len(m.data)), bytes.NewReader(m.data)))
	}

	require.NoError(t, tw.Close())

	return buf.Bytes()
}

func readTar(t *testing.T, path string) []tarMember {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)

	defer f.Close()

	var (
		out []tarMember
		tr  = tar.NewReader(f)
	)

	for hdr, err := range archive.Entries(tr) {
		require.NoError(t, err)

		data, err := io.ReadAll(tr)
		require.NoError(t, err)

		out = append(out, tarMember{name: hdr.Name, data: data})
	}

	return out
}
