package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvp-joe/cortex-index/internal/daemon/state"
	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/lock"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/reuse"
	"github.com/mvp-joe/cortex-index/internal/scheduler"
	"github.com/mvp-joe/cortex-index/internal/walker"
	"github.com/mvp-joe/cortex-index/internal/watcher"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// ErrAlreadyRunning is returned by Run when another worker owns the workspace.
var ErrAlreadyRunning = errors.New("daemon already running")

// Builder runs one index build. *indexer.Indexer satisfies it.
type Builder interface {
	Index(ctx context.Context, req indexer.Request, progress indexer.ProgressReporter) (*indexer.Result, error)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Policy     scheduler.Policy
	ReuseMode  reuse.Mode
	Extensions []string
	LogPath    string
	Log        zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Worker watches a workspace and schedules incremental builds.
type Worker struct {
	layout workspace.Layout
	build  Builder
	opts   WorkerOptions
	log    zerolog.Logger
	now    func() time.Time

	sched   *scheduler.Scheduler
	filter  *scheduler.Filter
	indexed int
	rec     *state.DaemonState

	mu      sync.RWMutex
	files   *walker.Walker
	profile string
}

// NewWorker creates a worker for layout.
func NewWorker(layout workspace.Layout, build Builder, opts WorkerOptions) *Worker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Extensions == nil {
		opts.Extensions = walker.DefaultExtensions
	}
	if opts.LogPath == "" {
		opts.LogPath = layout.DaemonLogPath()
	}
	return &Worker{
		layout: layout,
		build:  build,
		opts:   opts,
		log:    opts.Log,
		now:    opts.Now,
	}
}

type outcome struct {
	res     *indexer.Result
	err     error
	took    time.Duration
	catchUp bool
}

// Run owns the workspace until ctx ends. It builds once to catch up with
// changes made while no worker was running, then indexes batches released
// by the scheduler. An in-flight build is allowed to finish or abort before
// Run returns.
func (w *Worker) Run(ctx context.Context) error {
	single := NewSingleton(w.layout.DaemonLockPath())
	won, err := single.Enforce()
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyRunning
	}
	defer single.Release()

	if err := w.layout.Ensure(); err != nil {
		return err
	}

	w.sched = scheduler.New(w.opts.Policy, w.now())
	if prev, err := state.Load(w.layout.DaemonStatePath()); err == nil && prev != nil {
		w.sched.Restore(prev.BackoffState)
		w.rec = &state.DaemonState{LastRunAt: prev.LastRunAt}
	} else {
		w.rec = &state.DaemonState{}
	}
	w.rec.PID = os.Getpid()
	w.rec.LogPath = w.opts.LogPath
	w.rec.StartedAt = w.now().UTC()
	w.rec.BackoffState = w.sched.Backoff()
	if err := state.Save(w.layout.DaemonStatePath(), w.rec); err != nil {
		return err
	}
	defer w.removeState()

	if err := w.reload(); err != nil {
		return err
	}
	wat, err := watcher.New(w.layout.Root, watcher.Options{SkipDir: w.skipDir, Log: w.log})
	if err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	wat.Start(ctx)
	defer wat.Close()

	w.log.Info().
		Str("root", w.layout.Root).
		Int("pid", w.rec.PID).
		Dur("debounce", w.sched.Policy().Debounce).
		Dur("min_interval", w.sched.Policy().MinInterval).
		Dur("max_batch_delay", w.sched.Policy().MaxBatchDelay).
		Msg("daemon started")

	done := make(chan outcome, 1)
	running := true
	go w.execute(ctx, indexer.Request{Background: true, ReuseMode: w.opts.ReuseMode}, true, done)

	for {
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if !running {
			if at, ok := w.sched.Deadline(w.now()); ok {
				timer = time.NewTimer(at.Sub(w.now()))
				timerC = timer.C
			}
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			if running {
				<-done
			}
			w.log.Info().Msg("daemon stopping")
			return nil

		case ev, ok := <-wat.Events():
			stopTimer(timer)
			if !ok {
				if running {
					<-done
				}
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("file watcher stopped")
			}
			w.observe(ev)

		case o := <-done:
			stopTimer(timer)
			running = false
			w.finish(o)

		case <-timerC:
			b, ok := w.sched.Take(w.now(), w.indexed)
			if !ok {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Warn().Err(err).Msg("failed to reload index profile")
			}
			w.log.Info().
				Int("paths", len(b.Paths)).
				Bool("rescan", b.Rescan).
				Bool("bulk", b.Bulk).
				Str("trigger", string(b.Trigger)).
				Msg("batch released")
			running = true
			go w.execute(ctx, w.request(b), false, done)
		}
	}
}

func (w *Worker) request(b scheduler.Batch) indexer.Request {
	req := indexer.Request{
		Bulk:       b.Bulk,
		Background: true,
		ReuseMode:  w.opts.ReuseMode,
	}
	if !b.Rescan {
		req.Hint = b.Paths
	}
	return req
}

func (w *Worker) execute(ctx context.Context, req indexer.Request, catchUp bool, done chan<- outcome) {
	start := time.Now()
	res, err := w.build.Index(ctx, req, nil)
	done <- outcome{res: res, err: err, took: time.Since(start), catchUp: catchUp}
}

func (w *Worker) finish(o outcome) {
	now := w.now()
	switch {
	case o.err == nil:
		w.indexed = o.res.Files
		at := now.UTC()
		w.rec.LastRunAt = &at
		if o.catchUp {
			w.log.Info().Str("result", o.res.String()).Msg("catch-up build complete")
		} else {
			w.sched.Finish(now, o.took, nil)
			w.log.Info().Str("result", o.res.String()).Dur("took", o.took).Msg("batch indexed")
		}

	case errors.Is(o.err, context.Canceled):
		return

	case errors.Is(o.err, lock.ErrBuildInProgress):
		w.log.Debug().Msg("build lock held elsewhere, batch requeued")
		if o.catchUp {
			w.sched.ObserveRescan(now)
		} else {
			w.sched.Requeue(now)
		}

	default:
		w.log.Warn().Err(o.err).Msg("background build failed")
		if o.catchUp {
			w.sched.ObserveRescan(now)
		} else {
			w.sched.Finish(now, o.took, o.err)
		}
	}

	w.rec.BackoffState = w.sched.Backoff()
	if err := state.Save(w.layout.DaemonStatePath(), w.rec); err != nil {
		w.log.Warn().Err(err).Msg("failed to persist daemon state")
	}
}

func (w *Worker) observe(ev watcher.Event) {
	now := w.now()
	switch {
	case ev.Op == watcher.Overflow:
		// Dropped events may include ignore file edits.
		w.mu.RLock()
		w.files.Invalidate()
		w.mu.RUnlock()
		w.sched.ObserveRescan(now)
	case walker.IsIgnoreFile(ev.Path):
		w.mu.RLock()
		w.files.Invalidate()
		w.mu.RUnlock()
		w.sched.ObserveRescan(now)
	case ev.Op == watcher.Removed && ev.Dir:
		w.sched.ObserveRescan(now)
	case w.filter.Track(ev.Path):
		w.sched.Observe(now, ev.Path)
	default:
		return
	}
	w.log.Debug().Str("path", ev.Path).Stringer("op", ev.Op).Int("pending", w.sched.Pending()).Msg("change observed")
}

// reload rebuilds the path filter when the saved profile changed.
func (w *Worker) reload() error {
	p, ok, err := manifest.LoadProfile(w.layout.StateDir)
	if err != nil {
		return err
	}
	if !ok {
		p = manifest.DefaultProfile()
	}
	hash := p.Hash()

	w.mu.RLock()
	same := w.files != nil && w.profile == hash
	w.mu.RUnlock()
	if same {
		return nil
	}

	files, err := walker.New(w.layout.Root, walker.ProfileOptions(p, w.opts.Extensions))
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.files = files
	w.profile = hash
	w.mu.Unlock()
	w.filter = scheduler.NewFilter(files)
	return nil
}

func (w *Worker) skipDir(rel string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.files.AcceptsDir(rel)
}

func (w *Worker) removeState() {
	cur, err := state.Load(w.layout.DaemonStatePath())
	if err != nil || cur == nil || cur.PID != w.rec.PID {
		return
	}
	if err := state.Remove(w.layout.DaemonStatePath()); err != nil {
		w.log.Warn().Err(err).Msg("failed to remove daemon state")
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
