package indexer

import (
	"errors"
	"fmt"
)

// ErrIndexBuild marks a failure of a full-text or symbol engine. The current
// build is abandoned without committing; the previous generation stays valid.
var ErrIndexBuild = errors.New("index build failed")

// FileError is a recoverable per-file failure. It is counted in
// progress.failed and never aborts the build.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

func buildError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIndexBuild, op, err)
}
