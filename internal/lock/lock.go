// Package lock keeps two esidx commands from working on indexes at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("this process is already running")

// FileLock is an exclusive advisory lock on a file.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock on path. The file is created on first use.
func New(path string) *FileLock {
	return &FileLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking and returns ErrAlreadyRunning
// when it is held elsewhere.
func Acquire(path string) (*FileLock, error) {
	l := New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return l, nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Release unlocks the file. Releasing an unlocked FileLock is a no-op.
func (l *FileLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Locked reports whether this FileLock holds the lock.
func (l *FileLock) Locked() bool { return l.locked }
