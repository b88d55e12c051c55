package manifest

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/config"
)

// glExtensionSection is the metadata section carrying the base runtime's own
// branch versions.
const glExtensionSection = "[Extension org.freedesktop.Platform.GL]"

// baseBranchPattern matches the project's base-runtime branch naming: an
// even-numbered major release's August branch.
var baseBranchPattern = regexp.MustCompile(`^2\d\.08$`)

// BuildExtensionRefs resolves the refs of every declared build extension.
// SDK extensions follow the base runtime's own branch, not the
// application's runtime-version; add-build-extensions use their declared
// version or default to the stable branch.
func (m *Manifest) BuildExtensionRefs() []string {
	var refs []string

	if sdkExts, _ := m.Data()["sdk-extensions"].([]any); len(sdkExts) > 0 {
		runtimeRefs := m.RuntimeRef()
		if len(runtimeRefs) > 0 && strings.Contains(runtimeRefs[0], "//") {
			id, branch, _ := strings.Cut(runtimeRefs[0], "//")
			baseBranch := m.baseRuntimeVersion(id, branch)
			if baseBranch != "" {
				for _, ext := range sdkExts {
					if name, ok := ext.(string); ok {
						refs = append(refs, name+"//"+baseBranch)
					}
				}
			} else {
				m.Log.Warn("No base branch found for runtime", zap.String("ref", runtimeRefs[0]))
			}
		}
	}

	if addExts, _ := m.Data()["add-build-extensions"].(map[string]any); len(addExts) > 0 {
		for _, extID := range sortedKeys(addExts) {
			version := config.SupportedBranch
			if info, ok := addExts[extID].(map[string]any); ok {
				if v, ok := info["version"].(string); ok && v != "" {
					version = v
				}
			}
			refs = append(refs, extID+"//"+version)
		}
	}

	return refs
}

// baseRuntimeVersion queries the remote metadata of the runtime ref and
// scans it for the base runtime's branch version.
func (m *Manifest) baseRuntimeVersion(refID, refBranch string) string {
	ref := refID + "//" + refBranch
	metadata, ok := m.Remote.RefMetadata(ref)

	version := ""
	if ok {
		version = parseBaseRuntimeVersion(metadata)
	}

	if version == "" {
		m.Log.Error("Failed to determine the version of the base runtime. "+
			"This may result in missing build dependencies during the build process",
			zap.String("ref", ref))
	}
	return version
}

// parseBaseRuntimeVersion scans ini-style metadata text for the GL extension
// section and returns the last listed version matching the base branch
// pattern.
func parseBaseRuntimeVersion(metadata string) string {
	inSection := false
	var versions []string

	for _, line := range strings.Split(metadata, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "[") && strings.HasSuffix(stripped, "]") {
			inSection = stripped == glExtensionSection
			continue
		}
		if !inSection || !strings.Contains(stripped, "=") {
			continue
		}

		key, value, _ := strings.Cut(stripped, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "versions":
			for _, v := range strings.Split(value, ";") {
				versions = append(versions, strings.TrimSpace(v))
			}
		case "version":
			versions = append(versions, value)
		}
	}

	found := ""
	for _, v := range versions {
		if baseBranchPattern.MatchString(v) {
			found = v
		}
	}
	return found
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
