package runner

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestRunner() *Runner {
	return &Runner{Log: zap.NewNop(), FlatpakRoot: "/tmp/fp-root"}
}

func TestRunSuccess(t *testing.T) {
	res := newTestRunner().Run("sh", []string{"-c", "echo hello"}, Opts{})
	if res == nil {
		t.Fatal("expected result for successful command")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunFailureReturnsNil(t *testing.T) {
	res := newTestRunner().Run("sh", []string{"-c", "echo oops >&2; exit 3"}, Opts{})
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
}

func TestRunNoCheckKeepsResult(t *testing.T) {
	res := newTestRunner().Run("sh", []string{"-c", "echo oops >&2; exit 3"}, Opts{NoCheck: true})
	if res == nil {
		t.Fatal("expected result with NoCheck")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunMissingBinary(t *testing.T) {
	res := newTestRunner().Run("definitely-not-a-real-binary-xyz", nil, Opts{})
	if res != nil {
		t.Fatalf("expected nil result for missing binary, got %+v", res)
	}
}

func TestRunExtraEnv(t *testing.T) {
	res := newTestRunner().Run("sh", []string{"-c", "echo $REPRO_TEST_VAR"}, Opts{
		Env: []string{"REPRO_TEST_VAR=set"},
	})
	if res == nil {
		t.Fatal("expected result")
	}
	if strings.TrimSpace(res.Stdout) != "set" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	res := newTestRunner().Run("sh", []string{"-c", "pwd"}, Opts{Dir: dir})
	if res == nil {
		t.Fatal("expected result")
	}
	if strings.TrimSpace(res.Stdout) != dir {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
}

func TestFlatpakEnvInjectsUserDir(t *testing.T) {
	r := newTestRunner()
	env := r.flatpakEnv(nil)
	if !hasKey(env, "FLATPAK_USER_DIR") {
		t.Fatal("FLATPAK_USER_DIR not injected")
	}
	found := false
	for _, kv := range env {
		if kv == "FLATPAK_USER_DIR=/tmp/fp-root" {
			found = true
		}
	}
	if !found {
		t.Errorf("injected value not found in %v", env)
	}
}

func TestFlatpakEnvRespectsExplicitUserDir(t *testing.T) {
	r := &Runner{Log: zap.NewNop(), FlatpakRoot: "/tmp/fp-root", FlatpakUserDir: "/custom"}
	for _, kv := range r.flatpakEnv(nil) {
		if kv == "FLATPAK_USER_DIR=/tmp/fp-root" {
			t.Error("managed root injected despite explicit user dir")
		}
	}
}

func TestFlatpakEnvContainerHelper(t *testing.T) {
	r := &Runner{Log: zap.NewNop(), FlatpakRoot: "/tmp/fp-root", InContainer: true}
	env := r.flatpakEnv(nil)
	if !hasKey(env, "FLATPAK_SYSTEM_HELPER_ON_SESSION") {
		t.Error("container session helper variable not set")
	}
}

func TestImportantLines(t *testing.T) {
	out := "downloading\nERROR: checksum mismatch\nprogress 50%\nfatal: giving up\n"
	lines := importantLines(out)
	if len(lines) != 2 {
		t.Fatalf("importantLines = %v", lines)
	}
	if lines[0] != "ERROR: checksum mismatch" || lines[1] != "fatal: giving up" {
		t.Errorf("unexpected lines: %v", lines)
	}
}
