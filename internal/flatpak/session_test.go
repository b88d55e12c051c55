package flatpak

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/flathub-infra/repro-checker/internal/runner"
)

// fakeExec records flatpak invocations and answers them via fn.
type fakeExec struct {
	calls [][]string
	opts  []runner.Opts
	fn    func(args []string) *runner.Result
}

func (f *fakeExec) Flatpak(args []string, opts runner.Opts) *runner.Result {
	f.calls = append(f.calls, args)
	f.opts = append(f.opts, opts)
	if f.fn != nil {
		return f.fn(args)
	}
	return &runner.Result{}
}

func okExec() *fakeExec {
	return &fakeExec{}
}

func newSession(exec Executor) *Session {
	return &Session{Log: zap.NewNop(), Exec: exec}
}

func lastCall(t *testing.T, f *fakeExec) string {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no flatpak invocation recorded")
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func TestDefaultArchMemoized(t *testing.T) {
	exec := &fakeExec{fn: func(args []string) *runner.Result {
		return &runner.Result{Stdout: "x86_64\n"}
	}}
	s := newSession(exec)

	if got := s.DefaultArch(); got != "x86_64" {
		t.Fatalf("DefaultArch = %q", got)
	}
	s.DefaultArch()
	if len(exec.calls) != 1 {
		t.Errorf("arch queried %d times, want 1", len(exec.calls))
	}
}

func TestDefaultArchFailure(t *testing.T) {
	exec := &fakeExec{fn: func(args []string) *runner.Result { return nil }}
	if got := newSession(exec).DefaultArch(); got != "" {
		t.Errorf("DefaultArch = %q, want empty on failure", got)
	}
}

func TestSetupRemoteArgs(t *testing.T) {
	exec := okExec()
	if !newSession(exec).SetupRemote() {
		t.Fatal("SetupRemote failed")
	}
	want := "remote-add --user --if-not-exists flathub https://dl.flathub.org/repo/flathub.flatpakrepo"
	if got := lastCall(t, exec); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestInstallFromRemote(t *testing.T) {
	exec := okExec()
	if !newSession(exec).Install("app/com.example/x86_64/stable", "") {
		t.Fatal("Install failed")
	}
	want := "install --user --assumeyes --noninteractive --reinstall flathub app/com.example/x86_64/stable"
	if got := lastCall(t, exec); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestInstallFromLocalRepo(t *testing.T) {
	exec := okExec()
	dir := t.TempDir()
	if !newSession(exec).Install("app/com.example/x86_64/repro", dir) {
		t.Fatal("Install failed")
	}
	got := lastCall(t, exec)
	if !strings.Contains(got, dir+" app/com.example/x86_64/repro") {
		t.Errorf("local repo path not used as origin: %q", got)
	}
}

func TestMaskUnmaskArgs(t *testing.T) {
	exec := okExec()
	s := newSession(exec)

	s.Mask("runtime/org.gnome.Platform/x86_64/48")
	if got := lastCall(t, exec); got != "mask --user runtime/org.gnome.Platform/x86_64/48" {
		t.Errorf("mask args = %q", got)
	}

	s.Unmask("runtime/org.gnome.Platform/x86_64/48")
	if got := lastCall(t, exec); got != "mask --user --remove runtime/org.gnome.Platform/x86_64/48" {
		t.Errorf("unmask args = %q", got)
	}
}

func TestPinCommitArgs(t *testing.T) {
	exec := okExec()
	newSession(exec).PinCommit("runtime/org.gnome.Sdk/x86_64/48", "abc123")
	want := "update --assumeyes --noninteractive --no-related --no-deps --commit=abc123 runtime/org.gnome.Sdk/x86_64/48"
	if got := lastCall(t, exec); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestRefExists(t *testing.T) {
	exec := &fakeExec{fn: func(args []string) *runner.Result {
		if strings.Contains(strings.Join(args, " "), "app/com.present") {
			return &runner.Result{}
		}
		return nil
	}}
	s := newSession(exec)

	if !s.RefExists("app/com.present/x86_64/stable") {
		t.Error("expected present ref to exist")
	}
	if s.RefExists("app/com.absent/x86_64/stable") {
		t.Error("expected absent ref to be missing")
	}
}

func TestFailureSeverity(t *testing.T) {
	exec := okExec()
	s := newSession(exec)

	// Existence queries decide the verdict, so their failures are errors.
	s.RefExists("app/com.example/x86_64/stable")
	if exec.opts[len(exec.opts)-1].Warn {
		t.Error("remote-info failure must surface at error severity")
	}

	// Unmasking is cleanup and must not escalate.
	s.Unmask("runtime/org.gnome.Platform/x86_64/48")
	if !exec.opts[len(exec.opts)-1].Warn {
		t.Error("unmask failure should warn only")
	}
}

// stubDeps is a canned BuildDeps implementation.
type stubDeps struct {
	refs   []string
	pinned map[string]string
}

func (s stubDeps) BuildDepRefs() []string        { return s.refs }
func (s stubDeps) PinnedRefs() map[string]string { return s.pinned }

func TestHandleBuildDeps(t *testing.T) {
	exec := okExec()
	s := newSession(exec)

	deps := stubDeps{
		refs: []string{
			"runtime/org.gnome.Platform/x86_64/48",
			"runtime/org.gnome.Sdk/x86_64/48",
		},
		pinned: map[string]string{
			"runtime/org.gnome.Platform/x86_64/48": "aaa",
			"runtime/org.gnome.Sdk/x86_64/48":      "bbb",
		},
	}
	if !s.HandleBuildDeps(deps) {
		t.Fatal("HandleBuildDeps failed")
	}

	var installs, updates, masks int
	for _, call := range exec.calls {
		switch call[0] {
		case "install":
			installs++
		case "update":
			updates++
		case "mask":
			masks++
		}
	}
	if installs != 2 || updates != 2 || masks != 2 {
		t.Errorf("installs=%d updates=%d masks=%d, want 2 each", installs, updates, masks)
	}
}

func TestHandleBuildDepsNoRefs(t *testing.T) {
	exec := okExec()
	if newSession(exec).HandleBuildDeps(stubDeps{}) {
		t.Error("expected failure with no dependency refs")
	}
	if len(exec.calls) != 0 {
		t.Errorf("flatpak invoked %d times, want 0", len(exec.calls))
	}
}

func TestHandleBuildDepsNoPins(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	exec := okExec()
	s := &Session{Log: zap.New(core), Exec: exec}

	deps := stubDeps{refs: []string{"runtime/org.gnome.Platform/x86_64/48"}}
	if s.HandleBuildDeps(deps) {
		t.Error("expected failure with no pinned refs")
	}

	entries := logs.FilterMessage("No pinned refs found in manifest").All()
	if len(entries) != 1 {
		t.Fatalf("error logged %d times, want 1", len(entries))
	}
	if len(entries[0].Context) != 1 || entries[0].Context[0].Key != "installed" {
		t.Errorf("log context = %v, want the installed refs", entries[0].Context)
	}
}

func TestHandleBuildDepsPinFailureTriesAll(t *testing.T) {
	var updates int
	exec := &fakeExec{fn: func(args []string) *runner.Result {
		if args[0] == "update" {
			updates++
			return nil
		}
		return &runner.Result{}
	}}
	deps := stubDeps{
		refs: []string{"a", "b"},
		pinned: map[string]string{
			"a": "aaa",
			"b": "bbb",
		},
	}
	if newSession(exec).HandleBuildDeps(deps) {
		t.Fatal("expected failure when pinning fails")
	}
	if updates != 2 {
		t.Errorf("updates = %d, want every pin attempted", updates)
	}
}
