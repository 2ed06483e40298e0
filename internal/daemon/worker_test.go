package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-index/internal/daemon/state"
	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/lock"
	"github.com/mvp-joe/cortex-index/internal/scheduler"
	"github.com/mvp-joe/cortex-index/internal/walker"
	"github.com/mvp-joe/cortex-index/internal/watcher"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// Test Plan for Worker:
// - Startup runs a full catch-up build and records daemon.json with our pid
// - Rapid edits collapse into one hinted batch
// - A second worker for the same workspace is refused
// - Lock contention requeues the same batch without counting a failure
// - A failed build is retried and the failure count is persisted
// - Editing an ignore file forces a full bulk rescan
// - A watcher queue overflow schedules a full bulk rescan
// - Cancellation stops the worker and removes daemon.json

const callTimeout = 5 * time.Second

type fakeBuilder struct {
	mu    sync.Mutex
	errs  []error
	calls chan indexer.Request
}

func newFakeBuilder(errs ...error) *fakeBuilder {
	return &fakeBuilder{errs: errs, calls: make(chan indexer.Request, 32)}
}

func (f *fakeBuilder) Index(_ context.Context, req indexer.Request, _ indexer.ProgressReporter) (*indexer.Result, error) {
	f.mu.Lock()
	var err error
	// The catch-up build always succeeds.
	catchUp := req.Hint == nil && !req.Bulk
	if !catchUp && len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	f.calls <- req
	if err != nil {
		return nil, err
	}
	return &indexer.Result{Files: 10}, nil
}

func (f *fakeBuilder) next(t *testing.T) indexer.Request {
	t.Helper()
	select {
	case req := <-f.calls:
		return req
	case <-time.After(callTimeout):
		t.Fatal("no build requested")
		return indexer.Request{}
	}
}

func testPolicy() scheduler.Policy {
	return scheduler.Policy{
		Debounce:      300 * time.Millisecond,
		MinInterval:   0,
		MaxBatchDelay: 5 * time.Second,
	}
}

type runningWorker struct {
	layout workspace.Layout
	cancel context.CancelFunc
	errCh  chan error
}

func startWorker(t *testing.T, fb *fakeBuilder) *runningWorker {
	t.Helper()
	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	w := NewWorker(layout, fb, WorkerOptions{Policy: testPolicy(), Log: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	rw := &runningWorker{layout: layout, cancel: cancel, errCh: make(chan error, 1)}
	go func() { rw.errCh <- w.Run(ctx) }()
	t.Cleanup(func() { rw.stop(t) })

	catchUp := fb.next(t)
	assert.Nil(t, catchUp.Hint, "catch-up build walks the whole tree")
	assert.True(t, catchUp.Background)
	return rw
}

func (rw *runningWorker) stop(t *testing.T) {
	rw.cancel()
	select {
	case err := <-rw.errCh:
		assert.NoError(t, err)
		rw.errCh <- err
	case <-time.After(callTimeout):
		t.Error("worker did not stop")
	}
}

func (rw *runningWorker) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(rw.layout.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWorker_RecordsState(t *testing.T) {
	t.Parallel()

	rw := startWorker(t, newFakeBuilder())

	s, l := state.Inspect(rw.layout.DaemonStatePath())
	require.Equal(t, state.Running, l)
	assert.Equal(t, os.Getpid(), s.PID)
	assert.Equal(t, rw.layout.DaemonLogPath(), s.LogPath)

	assert.Eventually(t, func() bool {
		s, err := state.Load(rw.layout.DaemonStatePath())
		return err == nil && s != nil && s.LastRunAt != nil
	}, callTimeout, 20*time.Millisecond)
}

func TestWorker_CollapsesEditsIntoOneBatch(t *testing.T) {
	t.Parallel()

	fb := newFakeBuilder()
	rw := startWorker(t, fb)

	rw.write(t, "a.go", "package a\n")
	rw.write(t, "b.go", "package b\n")
	rw.write(t, "a.go", "package a\n\nfunc A() {}\n")
	rw.write(t, "notes.tmp", "scratch")

	req := fb.next(t)
	assert.Equal(t, []string{"a.go", "b.go"}, req.Hint)
	assert.False(t, req.Bulk)
	assert.True(t, req.Background)
	assert.Zero(t, req.Wait)
}

func TestWorker_SecondInstanceRefused(t *testing.T) {
	t.Parallel()

	rw := startWorker(t, newFakeBuilder())

	other := NewWorker(rw.layout, newFakeBuilder(), WorkerOptions{Policy: testPolicy(), Log: zerolog.Nop()})
	err := other.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	s, l := state.Inspect(rw.layout.DaemonStatePath())
	require.Equal(t, state.Running, l)
	assert.Equal(t, os.Getpid(), s.PID)
}

func TestWorker_LockContentionRequeues(t *testing.T) {
	t.Parallel()

	fb := newFakeBuilder(lock.ErrBuildInProgress)
	rw := startWorker(t, fb)

	rw.write(t, "main.go", "package main\n")

	first := fb.next(t)
	assert.Equal(t, []string{"main.go"}, first.Hint)
	retry := fb.next(t)
	assert.Equal(t, []string{"main.go"}, retry.Hint)

	s, err := state.Load(rw.layout.DaemonStatePath())
	require.NoError(t, err)
	assert.Zero(t, s.BackoffState.ConsecutiveFailures)
}

func TestWorker_FailureIsRetriedWithBackoff(t *testing.T) {
	t.Parallel()

	fb := newFakeBuilder(errors.New("disk full"))
	rw := startWorker(t, fb)

	rw.write(t, "main.go", "package main\n")

	first := fb.next(t)
	assert.Equal(t, []string{"main.go"}, first.Hint)

	assert.Eventually(t, func() bool {
		s, err := state.Load(rw.layout.DaemonStatePath())
		return err == nil && s != nil && s.BackoffState.ConsecutiveFailures == 1
	}, callTimeout, 20*time.Millisecond)

	retry := fb.next(t)
	assert.Equal(t, []string{"main.go"}, retry.Hint)
}

func TestWorker_IgnoreFileEditRescans(t *testing.T) {
	t.Parallel()

	fb := newFakeBuilder()
	rw := startWorker(t, fb)

	rw.write(t, ".gitignore", "build/\n")

	req := fb.next(t)
	assert.Nil(t, req.Hint)
	assert.True(t, req.Bulk)
}

func TestWorker_QueueOverflowSchedulesRescan(t *testing.T) {
	t.Parallel()

	layout, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	start := time.Unix(1_700_000_000, 0)
	now := start
	w := NewWorker(layout, newFakeBuilder(), WorkerOptions{
		Policy: testPolicy(),
		Log:    zerolog.Nop(),
		Now:    func() time.Time { return now },
	})
	w.sched = scheduler.New(testPolicy(), start)
	files, err := walker.New(layout.Root, walker.Options{})
	require.NoError(t, err)
	w.files = files

	w.observe(watcher.Event{Op: watcher.Overflow})
	assert.Equal(t, scheduler.Debouncing, w.sched.State())

	now = start.Add(time.Second)
	batch, ok := w.sched.Take(now, 100)
	require.True(t, ok)
	assert.True(t, batch.Rescan)
	assert.True(t, batch.Bulk)
	assert.Empty(t, batch.Paths)
}

func TestWorker_StopRemovesState(t *testing.T) {
	t.Parallel()

	rw := startWorker(t, newFakeBuilder())
	rw.stop(t)

	_, l := state.Inspect(rw.layout.DaemonStatePath())
	assert.Equal(t, state.NotRunning, l)
}
