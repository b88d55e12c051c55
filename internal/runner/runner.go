// Package runner executes the external tools the checker orchestrates.
//
// A nil *Result is the uniform failure signal: the failure has already been
// logged here and every caller short-circuits on it. Nothing in the pipeline
// retries a failed command.
package runner

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Opts adjusts a single invocation.
type Opts struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds KEY=VALUE entries appended to the process environment for
	// this invocation only.
	Env []string

	// Message is logged instead of the raw command line when the command
	// fails.
	Warn    bool
	Message string

	// NoCheck treats a non-zero exit as a result rather than a failure.
	NoCheck bool
}

// Runner executes external commands with the state root threaded in
// explicitly. It never mutates the process environment.
type Runner struct {
	Log *zap.Logger

	// FlatpakRoot is injected as FLATPAK_USER_DIR into flatpak and
	// flatpak-builder invocations unless the caller's environment already
	// set one.
	FlatpakRoot    string
	FlatpakUserDir string

	// InContainer switches flatpak to session-based system helper routing.
	InContainer bool
}

// errKeywords matches the high-signal diagnostic lines extracted from a
// failed command's stdout.
var errKeywords = regexp.MustCompile(`(?i)^(error|fail|failed|failure|abort|aborted|fatal)`)

const maxDiagnosticLines = 100

// Run executes a command and captures its output. On failure (non-zero exit
// unless NoCheck, or a command that cannot start) it logs diagnostics and
// returns nil.
func (r *Runner) Run(name string, args []string, opts Opts) *Result {
	display := name
	if len(args) > 0 {
		display += " " + strings.Join(args, " ")
	}
	msg := "Running: " + display
	if opts.Dir != "" {
		if abs, err := filepath.Abs(opts.Dir); err == nil {
			msg += " in directory: " + abs
		}
	}
	r.Log.Info(msg)

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.Log.Error("Command could not be started",
				zap.String("command", display), zap.Error(err))
			return nil
		}
		exitCode = exitErr.ExitCode()
	}

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}

	if exitCode == 0 || opts.NoCheck {
		return res
	}

	r.logFailure(display, res, opts)
	return nil
}

// logFailure surfaces the important lines of a failed command's output, then
// either the caller's context message or the raw stderr.
func (r *Runner) logFailure(display string, res *Result, opts Opts) {
	for _, line := range importantLines(res.Stdout) {
		r.Log.Error(line)
	}

	logf := r.Log.Error
	if opts.Warn {
		logf = r.Log.Warn
	}

	stderr := strings.TrimSpace(res.Stderr)
	switch {
	case opts.Message != "" && stderr != "":
		logf(opts.Message, zap.String("stderr", stderr))
	case opts.Message != "":
		logf(opts.Message)
	case stderr != "":
		r.Log.Error("Command failed",
			zap.String("command", display), zap.String("stderr", stderr))
	default:
		r.Log.Error("Command failed", zap.String("command", display))
	}
}

// importantLines returns the error-keyword lines from the tail of a failed
// command's stdout.
func importantLines(stdout string) []string {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil
	}

	lines := strings.Split(stdout, "\n")
	if len(lines) > maxDiagnosticLines {
		lines = lines[len(lines)-maxDiagnosticLines:]
	}

	var important []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if errKeywords.MatchString(line) {
			important = append(important, line)
		}
	}
	return important
}

// flatpakEnv returns the per-invocation environment entries shared by
// flatpak and flatpak-builder. The private installation root is injected
// uniformly unless the caller's environment already carries one.
func (r *Runner) flatpakEnv(extra []string) []string {
	env := extra
	if r.FlatpakUserDir == "" && !hasKey(env, "FLATPAK_USER_DIR") {
		env = append(env, "FLATPAK_USER_DIR="+r.FlatpakRoot)
	}
	if r.InContainer {
		env = append(env, "FLATPAK_SYSTEM_HELPER_ON_SESSION=1")
	}
	return env
}

// Flatpak runs the flatpak CLI against the checker's installation root.
func (r *Runner) Flatpak(args []string, opts Opts) *Result {
	opts.Env = r.flatpakEnv(opts.Env)
	return r.Run("flatpak", args, opts)
}

// FlatpakBuilder runs flatpak-builder with the same environment injection as
// Flatpak.
func (r *Runner) FlatpakBuilder(args []string, opts Opts) *Result {
	opts.Env = r.flatpakEnv(opts.Env)
	return r.Run("flatpak-builder", args, opts)
}

// Git runs git in dir with interactive credential prompts disabled.
func (r *Runner) Git(args []string, dir string, opts Opts) *Result {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	full := append([]string{"-c", "credential.interactive=false", "-C", dir}, args...)
	return r.Run("git", full, opts)
}

func hasKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}
