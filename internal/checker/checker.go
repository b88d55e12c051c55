// Package checker sequences the reproducibility pipeline: install the
// reference build, extract its manifest, pin and mask the build
// dependencies, rebuild, strip known non-determinism, and diff the two
// output trees. Cleanup runs on every exit path via an explicit undo stack.
package checker

import (
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/builder"
	"github.com/flathub-infra/repro-checker/internal/config"
	"github.com/flathub-infra/repro-checker/internal/flatpak"
	"github.com/flathub-infra/repro-checker/internal/fsutil"
	"github.com/flathub-infra/repro-checker/internal/manifest"
	"github.com/flathub-infra/repro-checker/internal/runner"
	"github.com/flathub-infra/repro-checker/internal/upload"
)

// CommandRunner executes an external command, returning nil on failure.
type CommandRunner interface {
	Run(name string, args []string, opts runner.Opts) *runner.Result
}

// Uploader publishes a result archive and returns its URL, or empty on
// failure.
type Uploader interface {
	Upload(path string) string
}

// requiredTools must all be present on PATH before the pipeline starts.
var requiredTools = []string{"flatpak", "flatpak-builder", "ostree", "diffoscope"}

// ValidateTools checks that every external tool the pipeline drives is
// available.
func ValidateTools(log *zap.Logger) bool {
	ok := true
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			log.Error("'" + tool + "' is required but was not found in PATH")
			ok = false
		}
	}
	return ok
}

// Checker runs the reproducibility check for one application.
type Checker struct {
	Log      *zap.Logger
	Cfg      *config.Config
	Exec     CommandRunner
	Session  *flatpak.Session
	Manifest *manifest.Manifest
	Builder  *builder.Builder

	// OutputDir receives the diffoscope HTML report.
	OutputDir string

	// RefBuildPath installs the reference build from a local repository
	// instead of the upstream remote.
	RefBuildPath string

	UploadResults bool
	Uploader      Uploader

	// Exclusions are the relative paths stripped before diffing. Empty
	// means DefaultExclusions.
	Exclusions []string
}

// Run executes the pipeline and returns the verdict. Every failure
// short-circuits; the undo stack restores masked refs and moved files
// regardless of where the pipeline stopped.
func (c *Checker) Run() config.Result {
	fail := config.Result{Code: config.Failure}
	undo := &undoStack{}
	defer undo.unwind()

	if !ValidateTools(c.Log) {
		return fail
	}
	if !c.Session.SetupRemote() {
		return fail
	}

	appID := c.Manifest.AppID
	appRef := config.AppRef(appID)

	// A stale cached manifest from an earlier run must not satisfy this one.
	if err := os.RemoveAll(c.Cfg.ManifestDir(appID)); err != nil {
		c.Log.Error("Failed to clear manifest cache", zap.Error(err))
		return fail
	}

	if c.RefBuildPath == "" && !c.Session.RefExists(appRef) {
		c.Log.Error("Ref not found on remote for the supported arch and branch",
			zap.String("ref", appRef))
		return config.Result{Code: config.Unhandled}
	}

	if !c.installRef(appRef) {
		return fail
	}

	srcRefs := c.Manifest.SourcesRef()
	if len(srcRefs) == 0 {
		return fail
	}
	if !c.installRef(srcRefs[0]) {
		return fail
	}

	if !c.Manifest.Extract() {
		return fail
	}
	manifestPath, ok := c.Manifest.SavedPath()
	if !ok {
		c.Log.Error("Flatpak manifest not found")
		return fail
	}

	if !c.Session.HandleBuildDeps(c.Manifest) {
		return fail
	}
	undo.push(func() {
		for ref := range c.Manifest.PinnedRefs() {
			c.Session.Unmask(ref)
		}
	})

	arch := c.Session.DefaultArch()
	if arch == "" {
		return fail
	}

	info, built := c.Builder.Build(manifestPath, arch)
	if info.ManifestBackup != "" {
		backup := info.ManifestBackup
		undo.push(func() {
			if err := fsutil.Move(backup, manifestPath); err != nil {
				c.Log.Warn("Failed to restore manifest backup",
					zap.String("path", backup), zap.Error(err))
			}
		})
	}
	if !built {
		return fail
	}

	builtBranch := c.Builder.BuiltAppBranch(manifestPath)
	if builtBranch == "" {
		return fail
	}

	installDir := c.Cfg.DeployDir(config.AppRefKind, appID, arch, config.SupportedBranch)
	rebuiltDir := c.Cfg.DeployDir(config.AppRefKind, appID, arch, builtBranch)

	if !c.backupAndStrip(installDir, rebuiltDir, undo) {
		return fail
	}

	return c.runDiffoscope(installDir, rebuiltDir)
}

// installRef installs from the override repository when one was supplied,
// otherwise from the upstream remote.
func (c *Checker) installRef(ref string) bool {
	return c.Session.Install(ref, c.RefBuildPath)
}

// runDiffoscope diffs the two output trees and classifies the result. Exit 0
// is reproducible, exit 1 is a reproducibility verdict, anything else is a
// tool failure and never reported as a verdict.
func (c *Checker) runDiffoscope(installDir, rebuiltDir string) config.Result {
	fail := config.Result{Code: config.Failure}

	if err := os.RemoveAll(c.OutputDir); err != nil {
		c.Log.Error("Failed to clear output directory", zap.String("dir", c.OutputDir), zap.Error(err))
		return fail
	}

	res := c.Exec.Run("diffoscope", []string{
		"--html-dir=" + c.OutputDir,
		"--exclude-directory-metadata=recursive",
		installDir,
		rebuiltDir,
	}, runner.Opts{NoCheck: true})
	if res == nil {
		return fail
	}

	switch res.ExitCode {
	case 0:
		c.Log.Info("Result is reproducible")
		if err := os.RemoveAll(c.OutputDir); err != nil {
			c.Log.Warn("Failed to remove empty report directory", zap.Error(err))
		}
		return config.Result{Code: config.Success}

	case 1:
		c.Log.Error("Result is not reproducible")
		if url := c.uploadReport(); url != "" {
			return config.Result{URL: url, Code: config.Unreproducible}
		}
		return config.Result{Code: config.Unreproducible}

	default:
		c.Log.Error("Diffoscope failed", zap.Int("code", res.ExitCode))
		return fail
	}
}

// uploadReport zips and uploads the report directory when uploading was
// requested. Any failure degrades to an unreproducible verdict without a
// URL.
func (c *Checker) uploadReport() string {
	if !c.UploadResults {
		return ""
	}
	if _, err := os.Stat(c.OutputDir); err != nil {
		return ""
	}

	zipPath, err := upload.ZipDirectory(c.OutputDir)
	if err != nil {
		c.Log.Error("Failed to create zip file", zap.Error(err))
		return ""
	}
	c.Log.Info("Created zip file", zap.String("path", zipPath))

	url := c.Uploader.Upload(zipPath)
	if url == "" {
		c.Log.Error("Failed to upload results")
		return ""
	}
	c.Log.Info("Results uploaded", zap.String("url", url))
	return url
}
