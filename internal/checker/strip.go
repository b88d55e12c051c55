package checker

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/flathub-infra/repro-checker/internal/fsutil"
)

// backupAndStrip moves the known non-deterministic artifacts out of both
// output trees before diffing, pushing a restore action for every moved
// entry. The backup directory itself is removed last during unwind, after
// all restores have run.
func (c *Checker) backupAndStrip(installDir, rebuiltDir string, undo *undoStack) bool {
	// Both manifests must exist before anything is moved aside.
	for _, dir := range []string{installDir, rebuiltDir} {
		manifest := filepath.Join(dir, "manifest.json")
		if fi, err := os.Stat(manifest); err != nil || fi.IsDir() {
			c.Log.Error("Failed to find manifest in output directory", zap.String("dir", dir))
			return false
		}
	}

	backupDir := c.Cfg.BackupDir()
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		c.Log.Error("Failed to create backup directory", zap.String("dir", backupDir), zap.Error(err))
		return false
	}
	undo.push(func() {
		if err := os.RemoveAll(backupDir); err != nil {
			c.Log.Warn("Failed to remove backup directory", zap.String("dir", backupDir), zap.Error(err))
		}
	})

	trees := []struct {
		dir, label string
	}{
		{installDir, "install"},
		{rebuiltDir, "rebuilt"},
	}

	for _, tree := range trees {
		for _, rel := range c.exclusions() {
			src := filepath.Join(tree.dir, rel)
			if _, err := os.Stat(src); err != nil {
				continue
			}

			dst := filepath.Join(backupDir, tree.label, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				c.Log.Error("Failed to prepare backup path", zap.String("path", dst), zap.Error(err))
				return false
			}
			if err := fsutil.Move(src, dst); err != nil {
				c.Log.Error("Failed to back up artifact", zap.String("path", src), zap.Error(err))
				return false
			}

			from, to := dst, src
			undo.push(func() {
				if err := fsutil.Move(from, to); err != nil {
					c.Log.Warn("Failed to restore backup", zap.String("path", to), zap.Error(err))
				}
			})
		}
	}

	return true
}

func (c *Checker) exclusions() []string {
	if len(c.Exclusions) > 0 {
		return c.Exclusions
	}
	return DefaultExclusions
}
