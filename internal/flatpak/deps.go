package flatpak

import "go.uber.org/zap"

// BuildDeps supplies the dependency refs and pinned commits derived from an
// application manifest.
type BuildDeps interface {
	BuildDepRefs() []string
	PinnedRefs() map[string]string
}

// HandleBuildDeps installs every build dependency, pins the commit-bearing
// refs to their exact manifest commits, then masks them so the build cannot
// drift to a newer version mid-run. Any failed install or mask aborts; a
// failed pin is attempted for every ref before reporting failure.
func (s *Session) HandleBuildDeps(deps BuildDeps) bool {
	refs := deps.BuildDepRefs()
	if len(refs) == 0 {
		s.Log.Error("No build dependency refs could be resolved")
		return false
	}

	for _, ref := range refs {
		if !s.Install(ref, "") {
			return false
		}
	}

	pinned := deps.PinnedRefs()
	if len(pinned) == 0 {
		s.Log.Error("No pinned refs found in manifest", zap.Strings("installed", refs))
		return false
	}

	pinOK := true
	for ref, commit := range pinned {
		if !s.PinCommit(ref, commit) {
			pinOK = false
		}
	}
	if !pinOK {
		return false
	}

	for ref := range pinned {
		if !s.Mask(ref) {
			return false
		}
	}
	return true
}
