package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Singleton guarantees one background worker per workspace. The lock is
// held for the life of the worker and released by the OS if it dies.
type Singleton struct {
	path string
	lock *flock.Flock
}

// NewSingleton creates a singleton guarded by the lock file at path.
func NewSingleton(path string) *Singleton {
	return &Singleton{path: path}
}

// Enforce attempts to become the singleton instance.
// Returns (true, nil) if this process won and should continue serving.
// Returns (false, nil) if another instance is running (this process should exit 0).
// Returns (false, err) on actual errors.
func (s *Singleton) Enforce() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(s.path)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	s.lock = fl
	return true, nil
}

// Release gives up the lock. Calling it without holding the lock is a no-op.
func (s *Singleton) Release() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}
