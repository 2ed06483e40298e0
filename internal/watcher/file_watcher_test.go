package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Watcher:
// - New fails for a missing root
// - Skipped directories are not registered
// - File created/written yields a Changed event with a relative path
// - File deleted yields Removed
// - Directory created with files inside reports those files
// - Watched directory removed yields a Removed event with Dir set
// - Close is idempotent and closes the event channel
// - Context cancellation stops the loop
// - A queue overflow from the backend yields an Overflow event
// - Other backend errors are logged and produce no event

const eventTimeout = 3 * time.Second

func newWatcher(t *testing.T, root string, skip func(string) bool) *Watcher {
	t.Helper()
	w, err := New(root, Options{SkipDir: skip, Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	w.Start(context.Background())
	return w
}

// waitFor drains events until match returns true or the timeout expires.
func waitFor(t *testing.T, w *Watcher, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected event not delivered")
			return Event{}
		}
	}
}

func TestNew_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)
}

func TestWatcher_SkipsDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0755))

	w := newWatcher(t, root, func(rel string) bool { return rel == "node_modules" })
	assert.Equal(t, 3, w.Watched(), "root, src and src/pkg")
}

func TestWatcher_FileChanged(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), 0755))
	w := newWatcher(t, root, nil)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0644))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Path == "src/main.go" })
	assert.Equal(t, Changed, ev.Op)
	assert.False(t, ev.Dir)
}

func TestWatcher_FileRemoved(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package gone\n"), 0644))
	w := newWatcher(t, root, nil)

	require.NoError(t, os.Remove(path))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Path == "gone.go" && ev.Op == Removed })
	assert.False(t, ev.Dir)
}

func TestWatcher_NewDirectoryReportsContents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := newWatcher(t, root, nil)

	// Build the tree elsewhere and move it in so its files never produce
	// events of their own.
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "pkg", "inner"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "pkg", "inner", "a.go"), []byte("package inner\n"), 0644))
	require.NoError(t, os.Rename(filepath.Join(staging, "pkg"), filepath.Join(root, "pkg")))

	waitFor(t, w, func(ev Event) bool { return ev.Path == "pkg/inner/a.go" && ev.Op == Changed })

	// The moved-in directories are now watched too.
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "inner", "b.go"), []byte("package inner\n"), 0644))
	waitFor(t, w, func(ev Event) bool { return ev.Path == "pkg/inner/b.go" })
}

func TestWatcher_DirectoryRemoved(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "old", "deep"), 0755))
	w := newWatcher(t, root, nil)
	require.Equal(t, 3, w.Watched())

	require.NoError(t, os.Rename(filepath.Join(root, "old"), filepath.Join(t.TempDir(), "moved")))

	ev := waitFor(t, w, func(ev Event) bool { return ev.Path == "old" })
	assert.Equal(t, Removed, ev.Op)
	assert.True(t, ev.Dir)
	assert.Eventually(t, func() bool { return w.Watched() == 1 }, eventTimeout, 10*time.Millisecond)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := New(t.TempDir(), Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	w.Start(context.Background())

	start := time.Now()
	require.NoError(t, w.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestWatcher_CloseWithoutStart(t *testing.T) {
	t.Parallel()

	w, err := New(t.TempDir(), Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	w, err := New(t.TempDir(), Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("watcher did not stop after cancellation")
	}
}

func TestWatcher_QueueOverflowRequestsRescan(t *testing.T) {
	t.Parallel()

	w := newWatcher(t, t.TempDir(), nil)
	w.fs.Errors <- fmt.Errorf("inotify: %w", fsnotify.ErrEventOverflow)

	ev := waitFor(t, w, func(ev Event) bool { return ev.Op == Overflow })
	assert.Empty(t, ev.Path)
	assert.Equal(t, "overflow", ev.Op.String())
}

func TestWatcher_OtherErrorsEmitNothing(t *testing.T) {
	t.Parallel()

	w, err := New(t.TempDir(), Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	defer w.Close()

	w.handleError(context.Background(), errors.New("watch limit reached"))

	select {
	case ev := <-w.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
