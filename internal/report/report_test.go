package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flathub-infra/repro-checker/internal/config"
)

func TestMessage(t *testing.T) {
	assert.Equal(t, "Success", Message(config.Success))
	assert.Equal(t, "Failure", Message(config.Failure))
	assert.Equal(t, "Unhandled", Message(config.Unhandled))
	assert.Equal(t, "Unreproducible", Message(config.Unreproducible))
}

func TestLogURLGitHub(t *testing.T) {
	cfg := &config.Config{
		GitHubServerURL: "https://github.com",
		GitHubRepo:      "flathub-infra/repro-checker",
		GitHubRunID:     "12345",
	}
	assert.Equal(t,
		"https://github.com/flathub-infra/repro-checker/actions/runs/12345",
		LogURL(cfg))
}

func TestLogURLGitLabFallback(t *testing.T) {
	cfg := &config.Config{
		GitHubServerURL:   "https://github.com",
		GitLabPipelineURL: "https://gitlab.example/pipelines/7",
	}
	assert.Equal(t, "https://gitlab.example/pipelines/7", LogURL(cfg))
}

func TestLogURLEmpty(t *testing.T) {
	assert.Empty(t, LogURL(&config.Config{GitHubServerURL: "https://github.com"}))
}

func TestNewEmitsSixStringFields(t *testing.T) {
	cfg := &config.Config{}
	for _, code := range []config.ExitCode{
		config.Success, config.Failure, config.Unhandled, config.Unreproducible,
	} {
		out, err := New(cfg, "com.example.App", code, Message(code), "")
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, out.Write(&buf))

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		require.Len(t, doc, 6)

		for _, key := range []string{"timestamp", "appid", "status_code", "log_url", "result_url", "message"} {
			raw, ok := doc[key]
			require.True(t, ok, "missing key %q", key)
			var s string
			assert.NoError(t, json.Unmarshal(raw, &s), "key %q is not a string", key)
		}
	}
}

func TestNewStatusCodeValues(t *testing.T) {
	cfg := &config.Config{}
	for code, want := range map[config.ExitCode]string{
		config.Success:        "0",
		config.Failure:        "1",
		config.Unhandled:      "2",
		config.Unreproducible: "42",
	} {
		out, err := New(cfg, "com.example.App", code, "", "")
		require.NoError(t, err)
		assert.Equal(t, want, out.StatusCode)
	}
}

func TestNewRejectsUnknownCode(t *testing.T) {
	_, err := New(&config.Config{}, "com.example.App", config.ExitCode(7), "", "")
	assert.Error(t, err)
}

func TestNewTimestampParses(t *testing.T) {
	out, err := New(&config.Config{}, "com.example.App", config.Success, "Success", "")
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, out.Timestamp)
	assert.NoError(t, err)
}
