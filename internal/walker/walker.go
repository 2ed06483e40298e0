// Package walker enumerates the candidate files of a workspace, honoring
// ignore files, explicit include/exclude lists and the indexable extension set.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/mvp-joe/cortex-index/internal/manifest"
)

// StateDirName is the workspace-local state directory. It is never indexed.
const StateDirName = ".cortex"

// ignoreFileNames are read in every directory when ignore rules are respected.
var ignoreFileNames = []string{".gitignore", ".ignore"}

// alwaysSkipped directory names are never descended into.
var alwaysSkipped = map[string]bool{
	StateDirName: true,
	".git":       true,
	".hg":        true,
	".svn":       true,
}

// Entry is one walked file. Path is workspace-relative and slash-separated;
// MTime is in unix nanoseconds.
type Entry struct {
	Path  string
	Size  int64
	MTime int64
}

// Options configures a Walker.
type Options struct {
	RespectIgnore bool
	Include       []string // paths or globs force-included even when ignored
	Exclude       []string // globs that are always excluded
	Extensions    []string // indexable extensions without the leading dot
}

// ProfileOptions builds walker options for a saved index profile.
func ProfileOptions(p manifest.IndexProfile, extensions []string) Options {
	return Options{
		RespectIgnore: p.RespectIgnore,
		Include:       p.Include,
		Exclude:       p.Exclude,
		Extensions:    extensions,
	}
}

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	literal string // leading part without glob metacharacters
	glob    glob.Glob
}

// Walker walks a workspace root.
type Walker struct {
	root       string
	opts       Options
	include    []compiledPattern
	exclude    []compiledPattern
	extensions map[string]bool

	mu       sync.Mutex
	matchers map[string]*ignore.GitIgnore // dir (slash-relative, "" for root) → rules, nil when none
}

// New creates a walker rooted at root.
func New(root string, opts Options) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	w := &Walker{
		root:       abs,
		opts:       opts,
		extensions: make(map[string]bool, len(opts.Extensions)),
		matchers:   make(map[string]*ignore.GitIgnore),
	}
	for _, ext := range opts.Extensions {
		w.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	if w.include, err = compilePatterns(opts.Include); err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	if w.exclude, err = compilePatterns(opts.Exclude); err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Walker) Root() string {
	return w.root
}

// Abs converts a workspace-relative slash path to an absolute OS path.
func (w *Walker) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Rel converts an absolute OS path to a workspace-relative slash path.
func (w *Walker) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Walk returns every accepted file sorted by path.
func (w *Walker) Walk(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing the walk.
			if p != w.root && os.IsPermission(err) {
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == w.root {
			return nil
		}

		rel, ok := w.Rel(p)
		if !ok {
			return nil
		}

		if d.IsDir() {
			if !w.acceptDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.Accepts(rel) {
			return nil
		}

		// Symlinks resolve to their target; symlinked directories are not descended.
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		entries = append(entries, Entry{Path: rel, Size: info.Size(), MTime: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", w.root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Stat returns the entry for a single relative path. ok is false when the
// path no longer exists, is not a regular file or is not accepted.
func (w *Walker) Stat(rel string) (Entry, bool, error) {
	if !w.Accepts(rel) {
		return Entry{}, false, nil
	}
	info, err := os.Stat(w.Abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if !info.Mode().IsRegular() {
		return Entry{}, false, nil
	}
	return Entry{Path: rel, Size: info.Size(), MTime: info.ModTime().UnixNano()}, true, nil
}

// Accepts reports whether a relative file path would be yielded by Walk,
// ignoring whether it currently exists.
func (w *Walker) Accepts(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	if rel == "" || rel == "." {
		return false
	}
	dir := path.Dir(rel)
	if dir != "." {
		for _, part := range strings.Split(dir, "/") {
			if alwaysSkipped[part] {
				return false
			}
		}
	}
	if !w.extensions[Extension(rel)] {
		return false
	}
	if matchesAny(rel, w.exclude) {
		return false
	}
	if w.included(rel) {
		return true
	}
	return !w.ignored(rel, false)
}

// Invalidate drops cached ignore rules so edits to ignore files take effect.
func (w *Walker) Invalidate() {
	w.mu.Lock()
	w.matchers = make(map[string]*ignore.GitIgnore)
	w.mu.Unlock()
}

// IsIgnoreFile reports whether rel names an ignore file the walker reads.
func IsIgnoreFile(rel string) bool {
	base := path.Base(rel)
	for _, name := range ignoreFileNames {
		if base == name {
			return true
		}
	}
	return false
}

// AcceptsDir reports whether Walk would descend into the relative directory.
func (w *Walker) AcceptsDir(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	if rel == "" || rel == "." {
		return true
	}
	return w.acceptDir(rel)
}

func (w *Walker) acceptDir(rel string) bool {
	if alwaysSkipped[path.Base(rel)] {
		return false
	}
	if matchesAny(rel, w.exclude) || matchesAny(rel+"/**", w.exclude) {
		return false
	}
	if w.includeCovers(rel) {
		return true
	}
	return !w.ignored(rel, true)
}

// ignored applies the ignore files of every ancestor directory, nearest last,
// so deeper rules refine shallower ones only by adding exclusions.
func (w *Walker) ignored(rel string, isDir bool) bool {
	if !w.opts.RespectIgnore {
		return false
	}

	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}

	var ancestors []string
	for d := dir; ; d = parentDir(d) {
		ancestors = append(ancestors, d)
		if d == "" {
			break
		}
	}

	for i := len(ancestors) - 1; i >= 0; i-- {
		base := ancestors[i]
		m := w.matcher(base)
		if m == nil {
			continue
		}
		sub := rel
		if base != "" {
			sub = strings.TrimPrefix(rel, base+"/")
		}
		if isDir {
			sub += "/"
		}
		if m.MatchesPath(sub) {
			return true
		}
	}
	return false
}

func (w *Walker) matcher(dir string) *ignore.GitIgnore {
	w.mu.Lock()
	defer w.mu.Unlock()

	if m, ok := w.matchers[dir]; ok {
		return m
	}

	var lines []string
	for _, name := range ignoreFileNames {
		data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(dir), name))
		if err != nil {
			continue
		}
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	var m *ignore.GitIgnore
	if len(lines) > 0 {
		m = ignore.CompileIgnoreLines(lines...)
	}
	w.matchers[dir] = m
	return m
}

func (w *Walker) included(rel string) bool {
	for _, cp := range w.include {
		if cp.glob.Match(rel) || rel == cp.literal || strings.HasPrefix(rel, strings.TrimSuffix(cp.literal, "/")+"/") {
			return true
		}
	}
	return false
}

// includeCovers reports whether an include entry may match something under dir.
func (w *Walker) includeCovers(dir string) bool {
	for _, cp := range w.include {
		lit := strings.TrimSuffix(cp.literal, "/")
		if lit == "" {
			return true
		}
		if lit == dir || strings.HasPrefix(lit, dir+"/") || strings.HasPrefix(dir, lit+"/") {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]compiledPattern, error) {
	var out []compiledPattern
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "./")
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		literal := pattern
		if i := strings.IndexAny(pattern, "*?[{"); i >= 0 {
			literal = pattern[:i]
		}
		out = append(out, compiledPattern{pattern: pattern, literal: literal, glob: g})
	}
	return out, nil
}

// matchesAny checks a path against patterns. Patterns starting with "**/"
// also match paths at the root, so "**/*.md" matches "README.md".
func matchesAny(rel string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(rel) {
			return true
		}
		if !strings.Contains(rel, "/") && strings.HasPrefix(cp.pattern, "**/") {
			if g, err := glob.Compile(strings.TrimPrefix(cp.pattern, "**/"), '/'); err == nil && g.Match(rel) {
				return true
			}
		}
	}
	return false
}

func parentDir(d string) string {
	p := path.Dir(d)
	if p == "." {
		return ""
	}
	return p
}
