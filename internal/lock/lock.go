// Package lock provides the cross-process build lock that serializes index
// builds and commits for a workspace.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrBuildInProgress is returned when another process holds the build lock.
var ErrBuildInProgress = errors.New("build already in progress")

const pollInterval = 200 * time.Millisecond

// BuildLock is a held build lock.
type BuildLock struct {
	path string
	fl   *flock.Flock
}

// Acquire takes the build lock at path. With wait <= 0 contention fails
// immediately; otherwise the lock is polled until wait elapses or ctx ends.
func Acquire(ctx context.Context, path string, wait time.Duration) (*BuildLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	deadline := time.Now().Add(wait)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire build lock: %w", err)
		}
		if locked {
			return &BuildLock{path: path, fl: fl}, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (lock: %s)", ErrBuildInProgress, path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks. It is safe to call more than once.
func (l *BuildLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// Held reports whether some process currently holds the lock at path.
func Held(path string) bool {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}
