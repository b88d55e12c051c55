// Package flatpak wraps the flatpak CLI: remote setup, ref installation,
// masking, and pinned-commit updates against the checker's private
// installation root.
package flatpak

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/config"
	"github.com/flathub-infra/repro-checker/internal/runner"
)

// Executor runs flatpak with the state root injected into its environment.
type Executor interface {
	Flatpak(args []string, opts runner.Opts) *runner.Result
}

// Session issues flatpak operations for one checker run. Boolean returns
// follow the runner contract: false means the failure was already logged.
type Session struct {
	Log  *zap.Logger
	Exec Executor

	arch string
}

// DefaultArch returns flatpak's default architecture, queried once per run.
func (s *Session) DefaultArch() string {
	if s.arch != "" {
		return s.arch
	}

	res := s.Exec.Flatpak([]string{"--default-arch"}, runner.Opts{
		Message: "Failed to get Flatpak arch",
	})
	if res == nil {
		return ""
	}

	s.arch = strings.TrimSpace(res.Stdout)
	return s.arch
}

// SetupRemote adds the upstream remote with if-not-exists semantics.
func (s *Session) SetupRemote() bool {
	res := s.Exec.Flatpak(
		[]string{"remote-add", "--user", "--if-not-exists", config.RemoteName, config.RemoteURL},
		runner.Opts{Message: "Failed to add remote '" + config.RemoteName + "'"},
	)
	return res != nil
}

// RefExists reports whether the remote carries ref.
func (s *Session) RefExists(ref string) bool {
	res := s.Exec.Flatpak([]string{"remote-info", config.RemoteName, ref}, runner.Opts{
		Message: "Failed to run remote-info for '" + ref + "'",
	})
	return res != nil
}

// RefMetadata returns the remote metadata text for ref.
func (s *Session) RefMetadata(ref string) (string, bool) {
	res := s.Exec.Flatpak([]string{"remote-info", "-m", config.RemoteName, ref}, runner.Opts{
		Message: "Failed to run remote-info on '" + ref + "'",
	})
	if res == nil {
		return "", false
	}
	return res.Stdout, true
}

// Install installs or reinstalls ref, from the given local repository path
// when repo is non-empty, otherwise from the upstream remote.
func (s *Session) Install(ref, repo string) bool {
	args := []string{"install", "--user", "--assumeyes", "--noninteractive", "--reinstall"}

	origin := config.RemoteName
	if repo != "" {
		abs, err := filepath.Abs(repo)
		if err != nil {
			s.Log.Error("Failed to resolve repository path", zap.String("path", repo), zap.Error(err))
			return false
		}
		origin = abs
	}
	args = append(args, origin, ref)

	res := s.Exec.Flatpak(args, runner.Opts{
		Message: "Failed to install or reinstall '" + ref + "' from '" + origin + "'",
	})
	return res != nil
}

// Mask prevents ref from being touched by update operations, keeping pinned
// versions stable for the duration of the build.
func (s *Session) Mask(ref string) bool {
	res := s.Exec.Flatpak([]string{"mask", "--user", ref}, runner.Opts{
		Message: "Failed to mask '" + ref + "'",
	})
	return res != nil
}

// Unmask removes a mask set by Mask.
func (s *Session) Unmask(ref string) bool {
	res := s.Exec.Flatpak([]string{"mask", "--user", "--remove", ref}, runner.Opts{
		Message: "Failed to unmask '" + ref + "'",
		Warn:    true,
	})
	return res != nil
}

// PinCommit updates an installed ref to an exact commit without touching
// related refs or dependencies.
func (s *Session) PinCommit(ref, commit string) bool {
	res := s.Exec.Flatpak([]string{
		"update", "--assumeyes", "--noninteractive",
		"--no-related", "--no-deps", "--commit=" + commit, ref,
	}, runner.Opts{
		Message: "Failed to pin '" + ref + "' to commit '" + commit + "'",
	})
	return res != nil
}
