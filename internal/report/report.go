// Package report formats the checker's result for humans and for CI
// consumers. In JSON mode the logical outcome lives entirely in the emitted
// object; the process exit code stays zero.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/flathub-infra/repro-checker/internal/config"
)

// Output is the JSON document printed in --json mode. Every value is a
// string; appid, log_url, result_url, and message may be empty.
type Output struct {
	Timestamp  string `json:"timestamp"`
	AppID      string `json:"appid"`
	StatusCode string `json:"status_code"`
	LogURL     string `json:"log_url"`
	ResultURL  string `json:"result_url"`
	Message    string `json:"message"`
}

// Message is the default human-readable verdict for a status code.
func Message(code config.ExitCode) string {
	switch code {
	case config.Success:
		return "Success"
	case config.Unreproducible:
		return "Unreproducible"
	case config.Unhandled:
		return "Unhandled"
	default:
		return "Failure"
	}
}

// LogURL derives the CI run URL from the configured environment: a GitHub
// Actions run URL when repository and run id are set, else the GitLab
// pipeline URL, else empty.
func LogURL(cfg *config.Config) string {
	if cfg.GitHubRepo != "" && cfg.GitHubRunID != "" {
		return fmt.Sprintf("%s/%s/actions/runs/%s", cfg.GitHubServerURL, cfg.GitHubRepo, cfg.GitHubRunID)
	}
	if cfg.GitLabPipelineURL != "" {
		return cfg.GitLabPipelineURL
	}
	return ""
}

// New builds the JSON output document. Unknown status codes are an error:
// callers branch on the documented taxonomy and must not see anything else.
func New(cfg *config.Config, appID string, code config.ExitCode, msg, resultURL string) (*Output, error) {
	switch code {
	case config.Success, config.Failure, config.Unhandled, config.Unreproducible:
	default:
		return nil, fmt.Errorf("unknown status code: %d", code)
	}

	return &Output{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		AppID:      appID,
		StatusCode: strconv.Itoa(int(code)),
		LogURL:     LogURL(cfg),
		ResultURL:  resultURL,
		Message:    msg,
	}, nil
}

// Write prints the document as indented JSON.
func (o *Output) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(o)
}
