package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/fsutil"
	"github.com/flathub-infra/repro-checker/internal/runner"
)

// FilenameToURI translates a flatpak-builder git cache folder name back into
// the URL it was fetched from. The cache stores repositories under
// filesystem-safe names with the scheme separator and path slashes replaced
// by underscores. Inputs without an underscore are returned unchanged.
func FilenameToURI(name string) string {
	scheme, rest, found := strings.Cut(name, "_")
	if !found {
		return name
	}
	return scheme + "://" + strings.ReplaceAll(rest, "_", "/")
}

// FindGitSourceCommit returns the pinned commit of the git source with the
// given URL in the manifest file. The second return is false when the URL is
// absent or carries no commit.
func (b *Builder) FindGitSourceCommit(manifestFile, gitURL string) (string, bool) {
	data, err := readManifestDoc(manifestFile)
	if err != nil {
		b.Log.Error("Failed to open manifest", zap.Error(err))
		return "", false
	}

	modules, _ := data["modules"].([]any)
	for _, mod := range modules {
		module, ok := mod.(map[string]any)
		if !ok {
			continue
		}
		sources, _ := module["sources"].([]any)
		for _, s := range sources {
			source, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if source["type"] != "git" || source["url"] != gitURL {
				continue
			}
			if commit, ok := source["commit"].(string); ok && commit != "" {
				return commit, true
			}
			b.Log.Error("Git source found but no commit", zap.String("url", gitURL))
			return "", false
		}
	}

	b.Log.Warn("Git url not found in manifest", zap.String("url", gitURL))
	return "", false
}

// ReplaceGitSources rewrites every matching git source URL in the manifest
// to a file:// URL pointing at its local checkout, leaving a pristine
// ".backup" copy of the manifest on disk. Non-matching modules and sources
// are untouched.
func (b *Builder) ReplaceGitSources(manifestFile string, replace map[string]string) bool {
	for _, localPath := range replace {
		if strings.HasPrefix(localPath, "file://") {
			b.Log.Error("Target path must not be a file uri", zap.String("path", localPath))
			return false
		}
		if fi, err := os.Stat(localPath); err != nil || !fi.IsDir() {
			b.Log.Error("Target git checkout does not exist", zap.String("path", localPath))
			return false
		}
	}

	backupFile := manifestFile + ".backup"
	if err := fsutil.CopyFile(manifestFile, backupFile); err != nil {
		b.Log.Error("Failed to create backup of manifest file", zap.Error(err))
		return false
	}
	b.Log.Info("Created backup", zap.String("path", backupFile))

	data, err := readManifestDoc(manifestFile)
	if err != nil {
		b.Log.Error("Failed to open manifest", zap.Error(err))
		return false
	}

	fileURLs := make(map[string]string, len(replace))
	for url, localPath := range replace {
		abs, err := filepath.Abs(localPath)
		if err != nil {
			b.Log.Error("Failed to resolve checkout path", zap.String("path", localPath), zap.Error(err))
			return false
		}
		fileURLs[url] = "file://" + abs
	}

	modules, _ := data["modules"].([]any)
	for _, mod := range modules {
		module, ok := mod.(map[string]any)
		if !ok {
			continue
		}
		sources, _ := module["sources"].([]any)
		for _, s := range sources {
			source, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if source["type"] != "git" {
				continue
			}
			if url, ok := source["url"].(string); ok {
				if local, ok := fileURLs[url]; ok {
					source["url"] = local
				}
			}
		}
	}

	out, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		b.Log.Error("Failed to encode manifest", zap.Error(err))
		return false
	}
	if err := os.WriteFile(manifestFile, out, 0o644); err != nil {
		b.Log.Error("Failed to write manifest", zap.Error(err))
		return false
	}
	return true
}

// processBareRepo clones a cached bare repository into a working checkout at
// the pinned commit. Returns the checkout path, or empty on failure.
func (b *Builder) processBareRepo(barePath, checkoutDir, commit string) string {
	if commit == "" {
		return ""
	}
	if fi, err := os.Stat(barePath); err != nil || !fi.IsDir() {
		return ""
	}

	checkoutPath := filepath.Join(checkoutDir, filepath.Base(barePath)+"_checkout")

	if b.Exec.Git([]string{"clone", barePath, checkoutPath}, filepath.Dir(barePath), runner.Opts{}) == nil {
		return ""
	}
	if b.Exec.Git([]string{"checkout", "-f", commit}, checkoutPath, runner.Opts{}) == nil {
		return ""
	}
	return checkoutPath
}

// enableGitFileProtocol allows git to fetch from file:// sources, which the
// build tool forbids by default. Kept scoped tightly around the build
// invocation; disableGitFileProtocol must run on every exit path.
func (b *Builder) enableGitFileProtocol() bool {
	res := b.Exec.Git(
		[]string{"config", "--global", "protocol.file.allow", "always"}, "",
		runner.Opts{Message: "Failed to set git file protocol config"},
	)
	if res == nil {
		return false
	}
	b.Log.Info("Successfully set git file protocol config")
	return true
}

func (b *Builder) disableGitFileProtocol() {
	res := b.Exec.Git(
		[]string{"config", "--global", "--unset", "protocol.file.allow"}, "",
		runner.Opts{Message: "Failed to unset git file protocol config", Warn: true},
	)
	if res != nil {
		b.Log.Info("Successfully unset git file protocol config")
	}
}

func readManifestDoc(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return data, nil
}
