// Package watcher turns fsnotify notifications for a workspace tree into
// workspace-relative change events.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Op classifies an event.
type Op uint8

const (
	// Changed covers creation and writes.
	Changed Op = iota + 1
	// Removed covers deletion and renames away from the path.
	Removed
	// Overflow means the kernel queue dropped events. Path is empty and the
	// consumer must rescan the whole tree.
	Overflow
)

func (o Op) String() string {
	switch o {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is one change below the root. Path is slash-separated and relative.
type Event struct {
	Path string
	Op   Op
	// Dir is set for removals of a watched directory. Files below it do not
	// get their own events.
	Dir bool
}

// Options configures a Watcher.
type Options struct {
	// SkipDir reports whether a relative directory should not be watched.
	// The root is always watched.
	SkipDir func(rel string) bool

	// Buffer is the event channel capacity.
	Buffer int

	Log zerolog.Logger
}

// Watcher watches a directory tree recursively. New directories are added
// as they appear and files already inside them are reported as changed.
type Watcher struct {
	fs      *fsnotify.Watcher
	root    string
	skipDir func(string) bool
	log     zerolog.Logger

	events chan Event

	mu   sync.Mutex
	dirs map[string]bool // watched directories, relative

	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a watcher registered on every directory below root.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.SkipDir == nil {
		opts.SkipDir = func(string) bool { return false }
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}

	w := &Watcher{
		fs:      fsw,
		root:    abs,
		skipDir: opts.SkipDir,
		log:     opts.Log,
		events:  make(chan Event, opts.Buffer),
		dirs:    make(map[string]bool),
		doneCh:  make(chan struct{}),
	}
	if _, err := w.addTree(abs, false); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events delivers changes until the watcher stops, then is closed.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start runs the event loop until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.watch(ctx)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.doneCh
		} else {
			close(w.events)
		}
		err = w.fs.Close()
	})
	return err
}

// Watched returns the number of registered directories.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.handleError(ctx, err)
		}
	}
}

func (w *Watcher) handleError(ctx context.Context, err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.log.Warn().Err(err).Msg("file watcher queue overflowed, requesting rescan")
		w.emit(ctx, Event{Op: Overflow})
		return
	}
	w.log.Warn().Err(err).Msg("file watcher error")
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok || rel == "" {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		dir := w.dirs[rel]
		if dir {
			for d := range w.dirs {
				if d == rel || isBelow(d, rel) {
					delete(w.dirs, d)
				}
			}
		}
		w.mu.Unlock()
		w.emit(ctx, Event{Path: rel, Op: Removed, Dir: dir})

	case ev.Op&fsnotify.Create != 0:
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Gone again before we looked.
			return
		}
		if !info.IsDir() {
			w.emit(ctx, Event{Path: rel, Op: Changed})
			return
		}
		if w.skipDir(rel) {
			return
		}
		// Files can land in a new directory before its watch exists.
		files, err := w.addTree(ev.Name, true)
		if err != nil {
			w.log.Warn().Err(err).Str("dir", rel).Msg("failed to watch new directory")
		}
		for _, f := range files {
			w.emit(ctx, Event{Path: f, Op: Changed})
		}

	case ev.Op&fsnotify.Write != 0:
		w.emit(ctx, Event{Path: rel, Op: Changed})
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// addTree registers dir and its accepted subdirectories. With collect set it
// returns the files found on the way.
func (w *Watcher) addTree(dir string, collect bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.log.Debug().Err(err).Str("path", p).Msg("skipping unreadable path")
			return nil
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if !d.IsDir() {
			if collect {
				files = append(files, rel)
			}
			return nil
		}
		if rel != "" && w.skipDir(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			w.log.Warn().Err(err).Str("dir", rel).Msg("failed to watch directory")
			return nil
		}
		w.mu.Lock()
		w.dirs[rel] = true
		w.mu.Unlock()
		return nil
	})
	return files, err
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func isBelow(p, dir string) bool {
	return strings.HasPrefix(p, dir+"/")
}
