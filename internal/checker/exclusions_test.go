package checker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeExclusions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exclusions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExclusionsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusions.yaml")
	assert.Equal(t, DefaultExclusions, LoadExclusions(path, zap.NewNop()))
}

func TestLoadExclusionsOverride(t *testing.T) {
	path := writeExclusions(t, "exclude:\n  - manifest.json\n  - share/app-info\n  - lib/debug\n")
	assert.Equal(t,
		[]string{"manifest.json", "share/app-info", "lib/debug"},
		LoadExclusions(path, zap.NewNop()))
}

func TestLoadExclusionsMalformed(t *testing.T) {
	path := writeExclusions(t, "exclude: {not a list\n")
	assert.Equal(t, DefaultExclusions, LoadExclusions(path, zap.NewNop()))
}

func TestLoadExclusionsEmptyList(t *testing.T) {
	path := writeExclusions(t, "exclude: []\n")
	assert.Equal(t, DefaultExclusions, LoadExclusions(path, zap.NewNop()))
}

func TestLoadExclusionsUnsafeEntries(t *testing.T) {
	for _, content := range []string{
		"exclude:\n  - /etc/passwd\n",
		"exclude:\n  - ../outside\n",
		"exclude:\n  - share/../..\n",
	} {
		path := writeExclusions(t, content)
		assert.Equal(t, DefaultExclusions, LoadExclusions(path, zap.NewNop()), "content %q", content)
	}
}

func TestLoadExclusionsCleansPaths(t *testing.T) {
	path := writeExclusions(t, "exclude:\n  - ./share/app-info/\n")
	assert.Equal(t, []string{"share/app-info"}, LoadExclusions(path, zap.NewNop()))
}
