// Package lock enforces single-instance exclusivity over the state
// directory. At most one checker may touch the shared flatpak root, builder
// state, and backup directories; a second instance fails immediately rather
// than queuing.
package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrHeld is returned when another checker instance already holds the lock.
var ErrHeld = errors.New("another instance is already running")

// Lock is an exclusive, non-blocking file lock.
type Lock struct {
	fl  *flock.Flock
	log *zap.Logger
}

// New prepares a lock at path without acquiring it.
func New(path string, log *zap.Logger) *Lock {
	return &Lock{fl: flock.New(path), log: log}
}

// Acquire takes the lock or fails without retrying.
func (l *Lock) Acquire() error {
	if l.fl.Locked() {
		l.log.Warn("Lock already acquired", zap.String("path", l.fl.Path()))
		return nil
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrHeld
	}

	l.log.Info("Lock acquired", zap.String("path", l.fl.Path()))
	return nil
}

// Release unlocks and deletes the lockfile. Safe to call when the lock was
// never acquired.
func (l *Lock) Release() {
	if !l.fl.Locked() {
		return
	}

	_ = l.fl.Unlock()
	if err := os.Remove(l.fl.Path()); err != nil && !os.IsNotExist(err) {
		l.log.Warn("Failed to remove lockfile", zap.String("path", l.fl.Path()), zap.Error(err))
		return
	}

	l.log.Info("Lock released and lockfile deleted", zap.String("path", l.fl.Path()))
}
