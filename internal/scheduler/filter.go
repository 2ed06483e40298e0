package scheduler

import (
	"path"
	"strings"
)

// Acceptor decides whether a workspace-relative path is indexable.
// *walker.Walker satisfies it.
type Acceptor interface {
	Accepts(rel string) bool
}

// Filter drops events that can never affect the index.
type Filter struct {
	files Acceptor
}

// NewFilter wraps an Acceptor with editor temp-file rejection.
func NewFilter(files Acceptor) *Filter {
	return &Filter{files: files}
}

// Track reports whether a change to rel should be scheduled.
func (f *Filter) Track(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	if rel == "" || rel == "." {
		return false
	}
	if IsEditorTemp(path.Base(rel)) {
		return false
	}
	return f.files.Accepts(rel)
}

// IsEditorTemp matches lock, backup and swap files written by editors.
func IsEditorTemp(name string) bool {
	return strings.HasPrefix(name, ".#") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".swo")
}
