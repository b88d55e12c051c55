// Package builder rebuilds an application from its extracted manifest under
// pinned dependency versions. It stages the sources extension's pre-fetched
// payloads so the rebuild runs offline and commit-exact, then drives
// flatpak-builder.
package builder

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/config"
	"github.com/flathub-infra/repro-checker/internal/fsutil"
	"github.com/flathub-infra/repro-checker/internal/manifest"
	"github.com/flathub-infra/repro-checker/internal/runner"
)

// Executor runs the external tools the orchestrator drives.
type Executor interface {
	Run(name string, args []string, opts runner.Opts) *runner.Result
	Git(args []string, dir string, opts runner.Opts) *runner.Result
	FlatpakBuilder(args []string, opts runner.Opts) *runner.Result
}

// Builder orchestrates one rebuild.
type Builder struct {
	Log      *zap.Logger
	Cfg      *config.Config
	Exec     Executor
	Manifest *manifest.Manifest
}

// BuildInfo reports the side effects of a build the caller must undo.
type BuildInfo struct {
	// ManifestBackup is the pristine copy written before git source URLs
	// were rewritten to local checkouts; empty when no rewrite happened.
	ManifestBackup string
}

// fixedSourceDateEpoch overrides embedded build timestamps so they cannot
// make an otherwise identical rebuild differ.
const fixedSourceDateEpoch = "1321009871"

// Build rebuilds the application from the manifest at manifestPath onto the
// "repro" branch. Returns false when any step fails; nothing is retried.
func (b *Builder) Build(manifestPath, arch string) (*BuildInfo, bool) {
	info := &BuildInfo{}

	manifestDir := filepath.Dir(manifestPath)
	manifestFile := filepath.Base(manifestPath)

	stateDir, err := b.createStateDir()
	if err != nil {
		b.Log.Error("Failed to create builder state directory", zap.Error(err))
		return info, false
	}

	stateDownloads := filepath.Join(stateDir, "downloads")
	stateGit := filepath.Join(stateDir, "git")
	for _, dir := range []string{stateDownloads, stateGit} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.Log.Error("Failed to create builder cache directory", zap.String("dir", dir), zap.Error(err))
			return info, false
		}
	}

	var sourcesDir string
	if refs := b.Manifest.SourcesRef(); len(refs) > 0 {
		parts := strings.Split(refs[0], "/")
		if len(parts) > 1 {
			sourcesDir = b.Cfg.DeployDir(
				config.RuntimeRefKind, parts[1], config.SupportedArch, config.SupportedBranch,
			)
		}
	}

	if sourcesDir != "" {
		info.ManifestBackup = b.stageGitSources(
			filepath.Join(sourcesDir, "git"), stateGit, manifestPath, manifestDir,
		)
		b.stageManifestPayload(filepath.Join(sourcesDir, "manifest"), manifestDir)
		b.stageDownloads(filepath.Join(sourcesDir, "downloads"), stateDownloads)
	}

	b.stageLooseSources(manifestDir)

	if !b.enableGitFileProtocol() {
		return info, false
	}
	defer b.disableGitFileProtocol()

	args := []string{
		"--force-clean",
		"--sandbox",
		"--delete-build-dirs",
		"--override-source-date-epoch", fixedSourceDateEpoch,
		"--user",
		"--ccache",
		"--mirror-screenshots-url=https://dl.flathub.org/media",
		"--repo=repo",
		"--install",
		"--default-branch=" + config.RebuildBranch,
		"--disable-rofiles-fuse",
		"--state-dir=" + stateDir,
		"--assumeyes",
		"--arch=" + arch,
		"builddir",
		manifestFile,
	}

	res := b.Exec.FlatpakBuilder(args, runner.Opts{
		Dir:     manifestDir,
		Message: "Failed to run flatpak-builder on '" + manifestFile + "'",
	})
	return info, res != nil
}

// BuiltAppBranch lists the refs of the build's local output repository and
// returns the branch of the first app ref. The branch requested from the
// build tool is not assumed to reappear unchanged.
func (b *Builder) BuiltAppBranch(manifestPath string) string {
	repoPath := filepath.Join(filepath.Dir(manifestPath), "repo")

	res := b.Exec.Run("ostree", []string{"--repo=" + repoPath, "refs"}, runner.Opts{
		Message: "Failed to list refs in '" + repoPath + "'",
	})
	if res == nil {
		return ""
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, config.AppRefKind+"/") {
			continue
		}
		parts := strings.Split(line, "/")
		if len(parts) >= 4 {
			return parts[len(parts)-1]
		}
	}
	return ""
}

func (b *Builder) createStateDir() (string, error) {
	path := b.Cfg.AppBuilderStateDir(b.Manifest.AppID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// stageGitSources copies every cached bare repository into the builder's git
// cache, checks each out at its pinned commit, and rewrites the manifest's
// git URLs to the local checkouts. Returns the path of the manifest backup
// written before the rewrite, or empty when nothing was rewritten.
func (b *Builder) stageGitSources(sourcesGitDir, stateGitDir, manifestPath, manifestDir string) string {
	entries, err := os.ReadDir(sourcesGitDir)
	if err != nil {
		return ""
	}

	replace := make(map[string]string)
	for _, entry := range entries {
		src := filepath.Join(sourcesGitDir, entry.Name())
		dest := filepath.Join(stateGitDir, entry.Name())
		uri := FilenameToURI(entry.Name())

		commit, ok := b.FindGitSourceCommit(manifestPath, uri)
		if !ok || !entry.IsDir() {
			continue
		}

		if err := fsutil.CopyTree(src, dest); err != nil {
			b.Log.Error("Failed to copy git cache", zap.String("repo", entry.Name()), zap.Error(err))
			continue
		}
		if checkout := b.processBareRepo(dest, manifestDir, commit); checkout != "" {
			replace[uri] = checkout
		}
	}

	if len(replace) == 0 {
		return ""
	}
	if !b.ReplaceGitSources(manifestPath, replace) {
		return ""
	}
	return manifestPath + ".backup"
}

// stageManifestPayload copies the sources extension's manifest payload next
// to the live manifest, skipping the live manifest's own filename variants.
func (b *Builder) stageManifestPayload(srcDir, manifestDir string) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return
	}

	appID := b.Manifest.AppID
	for _, entry := range entries {
		src := filepath.Join(srcDir, entry.Name())
		dest := filepath.Join(manifestDir, entry.Name())

		if !entry.IsDir() && isLiveManifestName(entry.Name(), appID) {
			continue
		}

		if entry.IsDir() {
			if err := os.RemoveAll(dest); err != nil {
				b.Log.Error("Failed to replace staged directory", zap.String("path", dest), zap.Error(err))
				continue
			}
			if err := fsutil.CopyTree(src, dest); err != nil {
				b.Log.Error("Failed to stage manifest payload", zap.String("path", src), zap.Error(err))
			}
			continue
		}
		if err := fsutil.CopyFile(src, dest); err != nil {
			b.Log.Error("Failed to stage manifest payload", zap.String("path", src), zap.Error(err))
		}
	}
}

func isLiveManifestName(name, appID string) bool {
	for _, ext := range []string{".json", ".yml", ".yaml"} {
		if strings.HasSuffix(name, appID+ext) {
			return true
		}
	}
	return false
}

// stageDownloads copies the pre-fetched download payloads into the builder's
// downloads cache.
func (b *Builder) stageDownloads(srcDir, stateDownloadsDir string) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		src := filepath.Join(srcDir, entry.Name())
		dest := filepath.Join(stateDownloadsDir, entry.Name())

		if entry.IsDir() {
			if err := fsutil.CopyTree(src, dest); err != nil {
				b.Log.Error("Failed to stage download", zap.String("path", src), zap.Error(err))
			}
			continue
		}
		if err := fsutil.CopyFile(src, dest); err != nil {
			b.Log.Error("Failed to stage download", zap.String("path", src), zap.Error(err))
		}
	}
}

// stageLooseSources copies loose local source files named by the manifest
// into the build directory, searching the tree for a file with the same
// basename. Best effort, first match wins.
func (b *Builder) stageLooseSources(manifestDir string) {
	for _, name := range b.Manifest.CollectSourcePaths() {
		target := filepath.Join(manifestDir, name)
		if _, err := os.Stat(target); err == nil {
			continue
		}

		_ = filepath.WalkDir(manifestDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || d.Name() != name {
				return err
			}
			if err := fsutil.CopyFile(path, target); err != nil {
				b.Log.Error("Failed to copy source file", zap.String("path", path), zap.Error(err))
			}
			return filepath.SkipAll
		})
	}
}
