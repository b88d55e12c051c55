// Package cmd wires the CLI surface to the reproducibility pipeline.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/builder"
	"github.com/flathub-infra/repro-checker/internal/checker"
	"github.com/flathub-infra/repro-checker/internal/config"
	"github.com/flathub-infra/repro-checker/internal/flatpak"
	"github.com/flathub-infra/repro-checker/internal/lock"
	"github.com/flathub-infra/repro-checker/internal/logging"
	"github.com/flathub-infra/repro-checker/internal/manifest"
	"github.com/flathub-infra/repro-checker/internal/report"
	"github.com/flathub-infra/repro-checker/internal/runner"
	"github.com/flathub-infra/repro-checker/internal/upload"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	appID        string
	jsonOut      bool
	refBuildPath string
	outputDir    string
	uploadResult bool
	cleanup      bool
)

// exitCode carries the process status out of RunE, which always returns nil
// so cobra never reprints pipeline failures as usage errors.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "repro-checker",
	Short: "Verify that Flathub builds are reproducible",
	Long: `repro-checker installs a published Flathub build, extracts its manifest,
rebuilds it from that manifest under pinned dependency versions, and
compares the two outputs to determine whether the build is reproducible.

This tool only works on "app" refs. It uses a private Flatpak root
directory; set FLATPAK_USER_DIR to override that.

STATUS CODES:
  0   Success
  1   Failure
  2   Unhandled application
  42  Unreproducible

With --json exactly one JSON object is printed on stdout and the process
exits 0 unless a fatal error occurs before output is configured. All values
are strings; "appid", "message", "log_url", "result_url" can be empty.

  {
    "timestamp": "2025-07-22T04:00:17.099066Z",
    "appid": "com.example.baz",
    "status_code": "42",
    "log_url": "https://example.com",
    "result_url": "https://example.com",
    "message": "Unreproducible"
  }`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		exitCode = run()
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&appID, "appid", "", "App ID on Flathub")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output; always exits 0 unless fatal errors")
	rootCmd.Flags().StringVar(&refBuildPath, "ref-build-path", "", "install the reference build from this OSTree repo path instead of Flathub")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "output dir for the diffoscope report (default ./diffoscope_result-<appid>)")
	rootCmd.Flags().BoolVar(&uploadResult, "upload-result", false, "upload the report to AWS S3; set AWS_S3_BUCKET_NAME")
	rootCmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove all persisted state and exit")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func run() int {
	log := logging.New(jsonOut)
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// emit reports the outcome in the selected mode. JSON mode encodes the
	// logical result entirely in the output object and exits 0.
	emit := func(id string, code config.ExitCode, msg, resultURL string) int {
		if !jsonOut {
			return int(code)
		}
		out, err := report.New(cfg, id, code, msg, resultURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if err := out.Write(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	if config.IsRoot() {
		msg := "Running the checker as root is unsupported"
		log.Error(msg)
		return emit("", config.Failure, msg, "")
	}

	if cleanup {
		msg := cleanupState(cfg.DataDir, log)
		return emit("", config.Success, msg, "")
	}

	if appID == "" {
		msg := "--appid is required"
		log.Error(msg)
		return emit("", config.Failure, msg, "")
	}

	if config.AppUnsupported(appID) {
		msg := fmt.Sprintf("Running the checker against '%s' is unsupported right now", appID)
		log.Error(msg)
		return emit(appID, config.Unhandled, msg, "")
	}

	if refBuildPath != "" {
		abs, err := filepath.Abs(refBuildPath)
		if err == nil {
			refBuildPath = abs
		}
		if fi, statErr := os.Stat(refBuildPath); err != nil || statErr != nil || !fi.IsDir() {
			msg := "The path does not exist: " + refBuildPath
			log.Error(msg)
			return emit(appID, config.Failure, msg, "")
		}
	}

	if uploadResult && cfg.S3Bucket == "" {
		msg := "Uploading results requires AWS_S3_BUCKET_NAME to be set"
		log.Error(msg)
		return emit(appID, config.Failure, msg, "")
	}

	for _, dir := range []string{cfg.DataDir, cfg.BuilderStateRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			msg := "Failed to create state directory: " + dir
			log.Error(msg, zap.Error(err))
			return emit(appID, config.Failure, msg, "")
		}
		log.Info("Created state directory", zap.String("dir", dir))
	}

	if outputDir == "" {
		outputDir = "./diffoscope_result-" + appID
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}

	l := lock.New(cfg.LockPath(), log)
	if err := l.Acquire(); err != nil {
		log.Error("Another instance is already running. Exiting")
		return emit(appID, config.Failure, err.Error(), "")
	}
	defer l.Release()

	res := newChecker(cfg, log).Run()
	return emit(appID, res.Code, report.Message(res.Code), res.URL)
}

// newChecker wires the pipeline components for one run.
func newChecker(cfg *config.Config, log *zap.Logger) *checker.Checker {
	run := &runner.Runner{
		Log:            log,
		FlatpakRoot:    cfg.FlatpakRootDir(),
		FlatpakUserDir: cfg.FlatpakUserDir,
		InContainer:    cfg.InContainer,
	}
	session := &flatpak.Session{Log: log, Exec: run}
	mf := manifest.New(appID, log, cfg, session, run)

	return &checker.Checker{
		Log:      log,
		Cfg:      cfg,
		Exec:     run,
		Session:  session,
		Manifest: mf,
		Builder: &builder.Builder{
			Log:      log,
			Cfg:      cfg,
			Exec:     run,
			Manifest: mf,
		},
		OutputDir:     outputDir,
		RefBuildPath:  refBuildPath,
		UploadResults: uploadResult,
		Uploader: &upload.S3Uploader{
			Log:    log,
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
		},
		Exclusions: checker.LoadExclusions(cfg.ExclusionsPath(), log),
	}
}

// cleanupState removes the whole state root. A missing root is still a
// success, with a distinct message.
func cleanupState(dataDir string, log *zap.Logger) string {
	if fi, err := os.Stat(dataDir); err != nil || !fi.IsDir() {
		log.Info("Nothing to clean")
		return "Nothing to clean"
	}

	msg := "Cleaning up: " + dataDir
	log.Info(msg)
	if err := os.RemoveAll(dataDir); err != nil {
		log.Warn("Failed to remove state directory", zap.Error(err))
	}
	return msg
}
