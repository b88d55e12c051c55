package checker

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultExclusions are the paths stripped from both output trees before
// diffing. They embed build timestamps and generated catalog data that say
// nothing about binary reproducibility.
var DefaultExclusions = []string{
	"manifest.json",
	"share/app-info",
}

type exclusionsFile struct {
	Exclude []string `yaml:"exclude"`
}

// LoadExclusions reads the optional exclusion override file. A missing file
// yields the defaults; a malformed file or one with unsafe entries is
// ignored with a warning rather than silently narrowing the exclusion set.
func LoadExclusions(path string, log *zap.Logger) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DefaultExclusions
	}

	var f exclusionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		log.Warn("Ignoring malformed exclusions file", zap.String("path", path), zap.Error(err))
		return DefaultExclusions
	}
	if len(f.Exclude) == 0 {
		return DefaultExclusions
	}

	var out []string
	for _, entry := range f.Exclude {
		clean := filepath.Clean(entry)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			log.Warn("Ignoring exclusions file with unsafe entry",
				zap.String("path", path), zap.String("entry", entry))
			return DefaultExclusions
		}
		out = append(out, clean)
	}

	log.Info("Loaded exclusion overrides", zap.String("path", path), zap.Strings("exclude", out))
	return out
}
