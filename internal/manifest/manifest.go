// Package manifest materializes and interprets an application's build
// manifest. A Manifest is a per-run value object: derived fields are
// computed lazily from the cached document and the whole object is discarded
// when the run ends, so there is no cache to invalidate manually.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/config"
	"github.com/flathub-infra/repro-checker/internal/runner"
)

// RemoteQuerier is the slice of the flatpak session the manifest needs to
// confirm refs and read runtime metadata.
type RemoteQuerier interface {
	RefExists(ref string) bool
	RefMetadata(ref string) (string, bool)
}

// Executor runs flatpak to extract the embedded manifest.
type Executor interface {
	Flatpak(args []string, opts runner.Opts) *runner.Result
}

// Manifest loads and interprets the build manifest of one application.
type Manifest struct {
	AppID  string
	Log    *zap.Logger
	Cfg    *config.Config
	Remote RemoteQuerier
	Exec   Executor

	data       map[string]any
	dataLoaded bool

	sourcesRef         []string
	sourcesRefResolved bool
}

// New returns a manifest handle for appID.
func New(appID string, log *zap.Logger, cfg *config.Config, remote RemoteQuerier, exec Executor) *Manifest {
	return &Manifest{AppID: appID, Log: log, Cfg: cfg, Remote: remote, Exec: exec}
}

// SavePath returns the cache file path, creating its directory.
func (m *Manifest) SavePath() (string, error) {
	dir := m.Cfg.ManifestDir(m.AppID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manifest directory %s: %w", dir, err)
	}
	return m.Cfg.ManifestPath(m.AppID), nil
}

// SavedPath returns the cache file path if the file exists.
func (m *Manifest) SavedPath() (string, bool) {
	path := m.Cfg.ManifestPath(m.AppID)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return "", false
	}
	return path, true
}

// Extract runs the installed reference build to cat its embedded manifest
// and persists the output verbatim to the per-application cache file.
func (m *Manifest) Extract() bool {
	path, err := m.SavePath()
	if err != nil {
		m.Log.Error("Failed to prepare manifest cache", zap.Error(err))
		return false
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.Log.Error("Failed to remove stale manifest", zap.String("path", path), zap.Error(err))
		return false
	}
	m.data = nil
	m.dataLoaded = false

	ref := m.AppID + "//" + config.SupportedBranch
	res := m.Exec.Flatpak(
		[]string{"run", "--command=/usr/bin/cat", ref, "/app/manifest.json"},
		runner.Opts{Message: "Failed to extract manifest from '" + ref + "'"},
	)
	if res == nil {
		return false
	}

	if err := os.WriteFile(path, []byte(res.Stdout), 0o644); err != nil {
		m.Log.Error("Failed to write manifest", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// Data parses the cached manifest, validating that its declared id matches
// the requested application. A missing file or mismatched id yields an empty
// document, never an error.
func (m *Manifest) Data() map[string]any {
	if m.dataLoaded {
		return m.data
	}
	m.dataLoaded = true
	m.data = map[string]any{}

	path, ok := m.SavedPath()
	if !ok {
		return m.data
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		m.Log.Error("Failed to read manifest", zap.String("path", path), zap.Error(err))
		return m.data
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		m.Log.Error("Failed to parse manifest", zap.String("path", path), zap.Error(err))
		return m.data
	}

	id, _ := doc["id"].(string)
	if id == "" {
		id, _ = doc["app-id"].(string)
	}
	if id != m.AppID {
		m.Log.Error("The 'id' in the manifest does not match the expected id",
			zap.String("id", id), zap.String("expected", m.AppID))
		return m.data
	}

	m.data = doc
	return m.data
}

// stringField returns a top-level string attribute, empty when absent.
func (m *Manifest) stringField(key string) string {
	v, _ := m.Data()[key].(string)
	return v
}

// RuntimeRef returns the runtime ref, rejecting runtimes outside the trusted
// namespace.
func (m *Manifest) RuntimeRef() []string {
	return m.platformRef("runtime")
}

// SDKRef returns the SDK ref, rejecting SDKs outside the trusted namespace.
func (m *Manifest) SDKRef() []string {
	return m.platformRef("sdk")
}

func (m *Manifest) platformRef(key string) []string {
	name := m.stringField(key)
	version := m.stringField("runtime-version")
	if name != "" && version != "" {
		if config.RuntimeAllowed(name) {
			return []string{name + "//" + version}
		}
		m.Log.Warn("Unknown "+key, zap.String(key, name))
	}
	m.Log.Error("Missing '"+key+"' or 'runtime-version' in manifest",
		zap.String("appid", m.AppID))
	return nil
}

// BaseAppRef returns the base application ref when both name and version are
// declared.
func (m *Manifest) BaseAppRef() []string {
	base := m.stringField("base")
	version := m.stringField("base-version")
	if base == "" || version == "" {
		return nil
	}
	return []string{base + "//" + version}
}

// ConstructSourcesRef builds the ref of the application's sources extension:
// hyphens in the final dotted segment become underscores and the id gains a
// ".Sources" suffix.
func (m *Manifest) ConstructSourcesRef() string {
	parts := strings.Split(m.AppID, ".")
	if len(parts) > 0 {
		parts[len(parts)-1] = strings.ReplaceAll(parts[len(parts)-1], "-", "_")
	}
	sourcesID := strings.Join(parts, ".") + ".Sources"

	return strings.Join([]string{
		config.RuntimeRefKind, sourcesID, config.SupportedArch, config.SupportedBranch,
	}, "/")
}

// SourcesRef returns the sources-extension ref if the remote carries it. The
// remote lookup happens once per run.
func (m *Manifest) SourcesRef() []string {
	if m.sourcesRefResolved {
		return m.sourcesRef
	}
	m.sourcesRefResolved = true

	ref := m.ConstructSourcesRef()
	if m.Remote.RefExists(ref) {
		m.sourcesRef = []string{ref}
	} else {
		m.Log.Warn("Failed to find sources extension", zap.String("appid", m.AppID))
	}
	return m.sourcesRef
}

// PinnedRefs maps the runtime, SDK, and base-app refs to the commit hashes
// recorded in the manifest. A ref appears only when both the ref and its
// commit resolve.
func (m *Manifest) PinnedRefs() map[string]string {
	refs := make(map[string]string)

	runtime := m.RuntimeRef()
	sdk := m.SDKRef()
	if len(runtime) > 0 && len(sdk) > 0 {
		if c := m.stringField("runtime-commit"); c != "" {
			refs[runtime[0]] = c
		}
		if c := m.stringField("sdk-commit"); c != "" {
			refs[sdk[0]] = c
		}
	}

	if base := m.BaseAppRef(); len(base) > 0 {
		if c := m.stringField("base-commit"); c != "" {
			refs[base[0]] = c
		}
	}

	return refs
}

// BuildDepRefs returns the deduplicated union of runtime, SDK, build
// extension, and base-app refs. Empty when neither runtime nor SDK resolve.
func (m *Manifest) BuildDepRefs() []string {
	runtime := m.RuntimeRef()
	sdk := m.SDKRef()
	if len(runtime) == 0 && len(sdk) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var refs []string
	for _, group := range [][]string{runtime, sdk, m.BuildExtensionRefs(), m.BaseAppRef()} {
		for _, ref := range group {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// CollectSourcePaths walks modules recursively and returns the basenames of
// loose local source files, skipping any entry that traverses directories.
func (m *Manifest) CollectSourcePaths() []string {
	modules, _ := m.Data()["modules"].([]any)
	return walkModules(modules)
}

func walkModules(modules []any) []string {
	var paths []string
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
			if p, ok := source["path"].(string); ok && isLoosePath(p) {
				paths = append(paths, filepath.Base(p))
			}
			if ps, ok := source["paths"].([]any); ok {
				for _, entry := range ps {
					if p, ok := entry.(string); ok && isLoosePath(p) {
						paths = append(paths, filepath.Base(p))
					}
				}
			}
		}
		nested, _ := module["modules"].([]any)
		paths = append(paths, walkModules(nested)...)
	}
	return paths
}

// isLoosePath reports whether p names a file next to the manifest rather
// than a nested directory entry.
func isLoosePath(p string) bool {
	return !strings.Contains(strings.TrimLeft(p, "./"), "/")
}
