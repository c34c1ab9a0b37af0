package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the installer and its daemon read at startup.
type Config struct {
	// DataDir is the private storage root; the workspace lives at <DataDir>/install.
	DataDir string `yaml:"data_dir"`
	// CacheDir receives temporary files such as signed images and the bootctl blob.
	CacheDir string `yaml:"cache_dir"`
	// RootTmpDir is the privileged tmpfs the workspace is moved to when NoDataExec is set.
	RootTmpDir string `yaml:"root_tmp_dir"`
	// NoDataExec marks devices that refuse to execute binaries from DataDir.
	NoDataExec bool `yaml:"no_data_exec"`
	// Shell is the argv, split shell-style, of the privileged shell.
	Shell string `yaml:"shell"`
	// ShellInit lists commands fed to the shell ahead of every job.
	ShellInit []string `yaml:"shell_init"`
	// AssetsDir holds the bundled scripts and the chromeos support files.
	AssetsDir string `yaml:"assets_dir"`
	// NativeLibDir holds the installed lib*.so tool binaries (full-install mode).
	NativeLibDir string `yaml:"native_lib_dir"`
	// BundlePath is the zip bundle tools are extracted from (thin-launcher mode).
	BundlePath string `yaml:"bundle_path"`
	// ABI is the primary device platform reported on the console.
	ABI string `yaml:"abi"`
	// ABI32 selects the lib/<abi32>/ directory inside the bundle.
	ABI32 string `yaml:"abi32"`
	// PatchTool is the name of the external unpack/repack tool inside the workspace.
	PatchTool string `yaml:"patch_tool"`
	// PatchScript is the script driving the patch tool.
	PatchScript string `yaml:"patch_script"`
	// Signer is the external signature tool binary.
	Signer string `yaml:"signer"`
	// Output is a local directory or an s3://bucket/prefix location.
	Output string `yaml:"output"`
	// S3Region overrides the region picked up by the AWS default chain.
	S3Region string `yaml:"s3_region"`
	// BootctlURL points at the bootctl helper fetched after an alternate-slot install.
	BootctlURL string `yaml:"bootctl_url"`
	// OutputPrefix starts every produced file name.
	OutputPrefix string `yaml:"output_prefix"`
	// KeepVerity is passed to the patch script as KEEPVERITY.
	KeepVerity bool `yaml:"keep_verity"`
	// KeepForceEncrypt is passed to the patch script as KEEPFORCEENCRYPT.
	KeepForceEncrypt bool `yaml:"keep_force_encrypt"`
	// Recovery enables the recovery image policy.
	Recovery bool `yaml:"recovery"`
	// UninstallerPath is handed to run_uninstaller.
	UninstallerPath string `yaml:"uninstaller_path"`
	// ServerAddress is the gRPC address of the installer daemon.
	ServerAddress string `yaml:"server_addr"`
	// Timeout bounds RPC calls to the daemon.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the zap level name.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for installer settings.
	DefaultConfigFilename = "boot-installer.yaml"

	// DefaultRootTmpDir is the privileged tmpfs used on no-exec data partitions.
	DefaultRootTmpDir = "/dev/tmp"

	// DefaultShell is the privileged shell command.
	DefaultShell = "su"

	// DefaultPatchTool is the external image tool name.
	DefaultPatchTool = "magiskboot"

	// DefaultPatchScript is the script that drives the patch tool.
	DefaultPatchScript = "boot_patch.sh"

	// DefaultSigner is the external signature tool.
	DefaultSigner = "boot_signer"

	// DefaultOutputPrefix starts produced file names.
	DefaultOutputPrefix = "magisk_patched"

	// DefaultServerAddress is where the daemon listens when nothing is configured.
	DefaultServerAddress = "127.0.0.1:50061"

	// DefaultTimeout is the default duration for RPC calls.
	DefaultTimeout = 10 * time.Minute

	// DefaultLogLevel is the level used when none is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errDataDirRequired is returned when no private storage root is configured.
	errDataDirRequired = errors.New("data directory must be provided")
	// errUnsupportedScheme is returned for output or bootctl locations we cannot serve.
	errUnsupportedScheme = errors.New("unsupported location scheme")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills defaults for omitted fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.DataDir == "" {
		return errDataDirRequired
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}

	if cfg.AssetsDir == "" {
		cfg.AssetsDir = filepath.Join(cfg.DataDir, "assets")
	}

	setDefault(&cfg.RootTmpDir, DefaultRootTmpDir)
	setDefault(&cfg.Shell, DefaultShell)
	setDefault(&cfg.PatchTool, DefaultPatchTool)
	setDefault(&cfg.PatchScript, DefaultPatchScript)
	setDefault(&cfg.Signer, DefaultSigner)
	setDefault(&cfg.OutputPrefix, DefaultOutputPrefix)
	setDefault(&cfg.ServerAddress, DefaultServerAddress)
	setDefault(&cfg.LogLevel, DefaultLogLevel)

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Output == "" {
		cfg.Output = filepath.Join(cfg.DataDir, "output")
	}

	if _, err := ShellArgs(cfg.Shell); err != nil {
		return err
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if err := validateLocation(cfg.Output, false); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}

	if cfg.BootctlURL == "" {
		return nil
	}

	if err := validateLocation(cfg.BootctlURL, true); err != nil {
		return fmt.Errorf("invalid bootctl url: %w", err)
	}

	return nil
}

// ShellArgs splits the configured shell command into argv.
func ShellArgs(shell string) ([]string, error) {
	args, err := shlex.Split(shell)
	if err != nil {
		return nil, fmt.Errorf("parse shell command: %w", err)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("parse shell command: %q is empty", shell)
	}

	return args, nil
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// validateLocation accepts s3:// everywhere, http(s):// only for remote blobs,
// and plain paths only for outputs.
func validateLocation(location string, remote bool) error {
	if !strings.Contains(location, "://") {
		if remote {
			return fmt.Errorf("%w: %q", errUnsupportedScheme, location)
		}

		return nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return err
	}

	switch {
	case u.Scheme == "s3" && u.Host != "":
		return nil
	case remote && (u.Scheme == "http" || u.Scheme == "https"):
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedScheme, location)
	}
}
