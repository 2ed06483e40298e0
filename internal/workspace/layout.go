// Package workspace describes the on-disk layout of a workspace's index state
// and owns the generation pointer that readers follow.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
)

// StateDirName is the per-workspace state directory.
const StateDirName = ".cortex"

const (
	currentFile    = "CURRENT"
	generationsDir = "generations"
	stagingPrefix  = ".staging-"
)

// Layout resolves every path of a workspace's index state.
type Layout struct {
	Root     string
	StateDir string
}

// New returns the layout for the workspace rooted at root.
func New(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return Layout{Root: abs, StateDir: filepath.Join(abs, StateDirName)}, nil
}

// Ensure creates the state directory tree.
func (l Layout) Ensure() error {
	if err := os.MkdirAll(filepath.Join(l.StateDir, generationsDir), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

func (l Layout) StatusPath() string     { return filepath.Join(l.StateDir, "status.json") }
func (l Layout) ReuseStatePath() string { return filepath.Join(l.StateDir, "reuse-state.json") }
func (l Layout) StatsPath() string      { return filepath.Join(l.StateDir, "stats.json") }
func (l Layout) LockPath() string       { return filepath.Join(l.StateDir, "build.lock") }
func (l Layout) DaemonStatePath() string {
	return filepath.Join(l.StateDir, "daemon.json")
}
func (l Layout) DaemonLockPath() string { return filepath.Join(l.StateDir, "daemon.lock") }
func (l Layout) DaemonLogPath() string  { return filepath.Join(l.StateDir, "daemon.log") }
func (l Layout) AutoIndexStamp() string { return filepath.Join(l.StateDir, "auto-index.stamp") }

// GenerationsDir holds every committed and staging generation.
func (l Layout) GenerationsDir() string { return filepath.Join(l.StateDir, generationsDir) }

// GenerationDir is the directory of a committed generation.
func (l Layout) GenerationDir(id string) string { return filepath.Join(l.GenerationsDir(), id) }

// Artifact paths inside a generation or snapshot directory. Generations and
// cached snapshots share this layout so one can be seeded from the other.
func IndexDir(dir string) string    { return filepath.Join(dir, "index") }
func SymbolsDir(dir string) string  { return filepath.Join(dir, "symbols") }
func SymbolsPath(dir string) string { return filepath.Join(dir, "symbols", "symbols.db") }
func ManifestDir(dir string) string { return filepath.Join(dir, "manifest") }
func SchemaPath(dir string) string  { return filepath.Join(dir, "SCHEMA") }

// CurrentGeneration returns the committed generation id, or "" when nothing
// has been committed or the pointer references a missing directory.
func (l Layout) CurrentGeneration() (string, error) {
	data, err := os.ReadFile(filepath.Join(l.StateDir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read generation pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" || !fsutil.DirExists(l.GenerationDir(id)) {
		return "", nil
	}
	return id, nil
}

// NewStaging creates an empty staging directory for a new generation.
func (l Layout) NewStaging() (id, dir string, err error) {
	if err := l.Ensure(); err != nil {
		return "", "", err
	}
	id = uuid.NewString()
	dir = filepath.Join(l.GenerationsDir(), stagingPrefix+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return id, dir, nil
}

// Promote renames a complete staging directory into place and swaps the
// generation pointer. Readers see the previous generation until the pointer
// rename lands and the new one afterwards.
func (l Layout) Promote(id, stagingDir string) error {
	final := l.GenerationDir(id)
	if err := os.Rename(stagingDir, final); err != nil {
		return fmt.Errorf("failed to promote generation %s: %w", id, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.StateDir, currentFile), []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to swap generation pointer: %w", err)
	}
	return nil
}

// Prune removes generations other than keep and abandoned staging directories.
func (l Layout) Prune(keep ...string) error {
	entries, err := os.ReadDir(l.GenerationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list generations: %w", err)
	}

	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	var errs []string
	for _, e := range entries {
		if !e.IsDir() || keepSet[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.GenerationsDir(), e.Name())); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to prune generations: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Generations lists committed generation ids sorted by modification time, oldest first.
func (l Layout) Generations() ([]string, error) {
	entries, err := os.ReadDir(l.GenerationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type gen struct {
		id  string
		mod int64
	}
	var gens []gen
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		gens = append(gens, gen{id: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].mod < gens[j].mod })

	ids := make([]string, len(gens))
	for i, g := range gens {
		ids[i] = g.id
	}
	return ids, nil
}
