// Package config holds the status-code taxonomy, the trusted ref namespace,
// the on-disk state layout, and every externally sourced value the pipeline
// consumes. Load reads the environment exactly once; afterwards the Config
// value is threaded explicitly so no component mutates or re-reads process
// state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ExitCode is the process-level status taxonomy shared by human and JSON
// output modes.
type ExitCode int

const (
	Success        ExitCode = 0
	Failure        ExitCode = 1
	Unhandled      ExitCode = 2
	Unreproducible ExitCode = 42
)

// Result pairs the final status with the uploaded report URL, if any.
type Result struct {
	URL  string
	Code ExitCode
}

const (
	// RemoteName and RemoteURL identify the upstream Flatpak remote.
	RemoteName = "flathub"
	RemoteURL  = "https://dl.flathub.org/repo/flathub.flatpakrepo"

	// SupportedArch and SupportedBranch identify the reference build.
	SupportedArch   = "x86_64"
	SupportedBranch = "stable"

	AppRefKind     = "app"
	RuntimeRefKind = "runtime"

	// RebuildBranch distinguishes the freshly rebuilt artifact from the
	// installed reference build.
	RebuildBranch = "repro"

	stateDirName = "flathub_repro_checker"
	lockFileName = "flathub_repro_checker.lock"
)

// allowedRuntimes is the trusted platform/SDK namespace. Dependency refs
// outside it are never followed.
var allowedRuntimes = map[string]bool{
	"org.freedesktop.Platform": true,
	"org.freedesktop.Sdk":      true,
	"org.gnome.Platform":       true,
	"org.gnome.Sdk":            true,
	"org.kde.Platform":         true,
	"org.kde.Sdk":              true,
}

// unsupportedAppIDs lists applications the checker cannot handle yet. Their
// builds need resources or manifest features the rebuild step does not
// support.
var unsupportedAppIDs = map[string]bool{
	"org.mozilla.firefox":         true,
	"org.mozilla.Thunderbird":     true,
	"net.pcsx2.PCSX2":             true,
	"org.duckstation.DuckStation": true,
	"net.wz2100.wz2100":           true,
	"com.obsproject.Studio":       true,
}

// RuntimeAllowed reports whether name is in the trusted runtime namespace.
func RuntimeAllowed(name string) bool {
	return allowedRuntimes[name]
}

// AppUnsupported reports whether the application is on the known-unsupported
// denylist.
func AppUnsupported(appID string) bool {
	return unsupportedAppIDs[appID]
}

// AppRef returns the full ref of the published reference build.
func AppRef(appID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", AppRefKind, appID, SupportedArch, SupportedBranch)
}

// Config carries the resolved environment for one checker run.
type Config struct {
	// DataDir is the per-user state root.
	DataDir string

	// FlatpakUserDir is a caller-supplied FLATPAK_USER_DIR. When empty the
	// checker injects its own root under DataDir into every flatpak
	// invocation.
	FlatpakUserDir string

	S3Bucket string
	S3Region string

	GitHubServerURL   string
	GitHubRepo        string
	GitHubRunID       string
	GitLabPipelineURL string

	InContainer bool
}

// Load resolves the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	v.SetDefault("data_home", filepath.Join(home, ".local", "share"))
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("github_server_url", "https://github.com")

	for key, env := range map[string]string{
		"data_home":           "XDG_DATA_HOME",
		"flatpak_user_dir":    "FLATPAK_USER_DIR",
		"s3_bucket":           "AWS_S3_BUCKET_NAME",
		"s3_region":           "AWS_DEFAULT_REGION",
		"github_server_url":   "GITHUB_SERVER_URL",
		"github_repository":   "GITHUB_REPOSITORY",
		"github_run_id":       "GITHUB_RUN_ID",
		"gitlab_pipeline_url": "CI_PIPELINE_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	return &Config{
		DataDir:           filepath.Join(v.GetString("data_home"), stateDirName),
		FlatpakUserDir:    v.GetString("flatpak_user_dir"),
		S3Bucket:          v.GetString("s3_bucket"),
		S3Region:          v.GetString("s3_region"),
		GitHubServerURL:   v.GetString("github_server_url"),
		GitHubRepo:        v.GetString("github_repository"),
		GitHubRunID:       v.GetString("github_run_id"),
		GitLabPipelineURL: v.GetString("gitlab_pipeline_url"),
		InContainer:       InsideContainer(),
	}, nil
}

// FlatpakRootDir is the installation root every flatpak invocation and
// deploy-dir lookup uses: the caller's FLATPAK_USER_DIR when set, otherwise
// the private root under DataDir.
func (c *Config) FlatpakRootDir() string {
	if c.FlatpakUserDir != "" {
		return c.FlatpakUserDir
	}
	return filepath.Join(c.DataDir, "flatpak_root")
}

// BuilderStateRoot holds one build-tool state directory per application.
func (c *Config) BuilderStateRoot() string {
	return filepath.Join(c.DataDir, "flatpak_builder_state")
}

// AppBuilderStateDir is the per-application flatpak-builder state directory.
func (c *Config) AppBuilderStateDir(appID string) string {
	return filepath.Join(c.BuilderStateRoot(), "flatpak_builder_state-"+appID)
}

// ManifestDir holds the cached manifest for one application.
func (c *Config) ManifestDir(appID string) string {
	return filepath.Join(c.DataDir, appID)
}

// ManifestPath is the cached manifest file for one application.
func (c *Config) ManifestPath(appID string) string {
	return filepath.Join(c.ManifestDir(appID), appID+".json")
}

// BackupDir holds originals moved aside during non-determinism stripping.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// LockPath is the single-instance lockfile.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, lockFileName)
}

// ExclusionsPath is the optional override for the non-determinism exclusion
// list.
func (c *Config) ExclusionsPath() string {
	return filepath.Join(c.DataDir, "exclusions.yaml")
}

// DeployDir is the live file tree of an installed ref.
func (c *Config) DeployDir(kind, id, arch, branch string) string {
	return filepath.Join(c.FlatpakRootDir(), kind, id, arch, branch, "active", "files")
}

// InsideContainer reports whether the process runs in a container, which
// changes how flatpak routes system helper calls.
func InsideContainer() bool {
	for _, p := range []string{"/.dockerenv", "/run/.containerenv"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// IsRoot reports whether the process runs privileged. Builds as root are
// unsupported.
func IsRoot() bool {
	return os.Geteuid() == 0
}
