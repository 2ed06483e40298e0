package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvp-joe/cortex-index/internal/lock"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/reuse"
	"github.com/mvp-joe/cortex-index/internal/scheduler"
	"github.com/mvp-joe/cortex-index/internal/status"
	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/symbols"
	"github.com/mvp-joe/cortex-index/internal/walker"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// Options configures an Indexer. Zero values fall back to defaults.
type Options struct {
	// Extensions lists indexable extensions without the leading dot.
	Extensions []string

	// MaxFileSize bounds indexed content. Larger files are tracked only.
	MaxFileSize int64

	HashWorkers int

	// Cache is the snapshot cache. Nil disables reuse regardless of mode.
	Cache *reuse.Cache

	// Extractor defaults to symbols.NewExtractor().
	Extractor symbols.Extractor

	Log zerolog.Logger
}

// Request describes one build.
type Request struct {
	// Profile overrides the persisted IndexProfile. Nil loads profile.json,
	// falling back to the default profile.
	Profile *manifest.IndexProfile

	// SaveProfile persists Profile as the workspace profile. Explicit
	// builds do this; daemon runs reuse whatever was persisted.
	SaveProfile bool

	ReuseMode reuse.Mode

	// Full ignores the committed generation and rebuilds from scratch, or
	// from a reuse snapshot when reuse is enabled.
	Full bool

	// Hint restricts detection to these workspace-relative paths. Nil walks
	// the whole tree.
	Hint []string

	// Bulk forces batched writes. Builds also switch to bulk on their own
	// when the diff crosses the bulk threshold.
	Bulk bool

	// Wait bounds how long a contended build lock is polled. Zero fails
	// immediately with lock.ErrBuildInProgress.
	Wait time.Duration

	Background bool
}

// Result summarizes a finished build.
type Result struct {
	BuildID    string
	Generation string

	// Committed is false when the diff was empty and no generation was created.
	Committed bool

	// Rebuilt is true when the build did not start from the committed
	// generation (cold start, --full or a corrupt manifest).
	Rebuilt bool

	Bulk      bool
	Diff      manifest.Diff
	Touched   int
	Unchanged int
	Stats     DetectStats
	Processed int
	Failed    int
	Failures  []*FileError
	Files     int

	Reuse    reuse.Outcome
	Snapshot *reuse.Stored
	Duration time.Duration
	Timings  Timings
}

// String renders a short summary for logs and status messages.
func (r *Result) String() string {
	return fmt.Sprintf("added=%d modified=%d deleted=%d processed=%d failed=%d files=%d",
		len(r.Diff.Added), len(r.Diff.Modified), len(r.Diff.Deleted), r.Processed, r.Failed, r.Files)
}

// Indexer runs builds for one workspace. Builds are serialized across
// processes by the workspace build lock.
type Indexer struct {
	layout workspace.Layout
	opts   Options
	log    zerolog.Logger
}

// New creates an indexer for layout.
func New(layout workspace.Layout, opts Options) *Indexer {
	if len(opts.Extensions) == 0 {
		opts.Extensions = walker.DefaultExtensions
	}
	if opts.Extractor == nil {
		opts.Extractor = symbols.NewExtractor()
	}
	return &Indexer{layout: layout, opts: opts, log: opts.Log}
}

// Layout returns the workspace the indexer writes to.
func (ix *Indexer) Layout() workspace.Layout {
	return ix.layout
}

// Index runs one build. It returns lock.ErrBuildInProgress without touching
// any state when another build holds the lock. On any other failure the
// committed generation stays authoritative.
func (ix *Indexer) Index(ctx context.Context, req Request, progress ProgressReporter) (*Result, error) {
	if progress == nil {
		progress = NoOpProgressReporter{}
	}
	if err := ix.layout.Ensure(); err != nil {
		return nil, err
	}

	bl, err := lock.Acquire(ctx, ix.layout.LockPath(), req.Wait)
	if err != nil {
		return nil, err
	}
	defer bl.Release()

	started := time.Now()
	res := &Result{BuildID: uuid.NewString()}
	rep := status.NewReporter(ix.layout, res.BuildID, req.Background, ix.log)
	rep.Start("build started")

	err = ix.run(ctx, req, res, rep, multiReporter{progress, &statusProgress{rep: rep}})
	res.Duration = time.Since(started)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			rep.Interrupt("build interrupted")
			ix.log.Info().Str("build", res.BuildID).Msg("build interrupted, previous generation kept")
			return nil, err
		}
		rep.Fail(err)
		ix.log.Error().Err(err).Str("build", res.BuildID).Msg("build failed")
		return nil, err
	}

	if req.SaveProfile && req.Profile != nil {
		if err := manifest.SaveProfile(ix.layout.StateDir, req.Profile.Normalized()); err != nil {
			ix.log.Warn().Err(err).Msg("failed to persist index profile")
		}
	}
	rep.Complete(res.Generation, res.String())
	if err := status.WriteStats(ix.layout, res.runStats(req.Background)); err != nil {
		ix.log.Warn().Err(err).Msg("failed to persist build stats")
	}
	progress.OnComplete(res)
	ix.log.Info().
		Str("build", res.BuildID).
		Str("generation", res.Generation).
		Bool("committed", res.Committed).
		Bool("bulk", res.Bulk).
		Int("scanned", res.Stats.Scanned).
		Int("suspects", res.Stats.Suspects).
		Int("hashed", res.Stats.Hashed).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Dur("took", res.Duration).
		Msg("build complete")
	return res, nil
}

// base is the starting point a build applies its diff to.
type base struct {
	generation string // committed generation id, "" if none
	dir        string // artifact directory to seed from, "" for empty
	manifest   *manifest.Manifest
	rebuild    bool
	invalid    []string // restored paths the safety gate rejected

	// rootHash identifies the committed manifest a --full build ignores.
	rootHash string
}

func (ix *Indexer) run(ctx context.Context, req Request, res *Result, rep *status.Reporter, progress ProgressReporter) error {
	profile, err := ix.profile(req)
	if err != nil {
		return err
	}
	files, err := walker.New(ix.layout.Root, walker.ProfileOptions(profile, ix.opts.Extensions))
	if err != nil {
		return fmt.Errorf("failed to create walker: %w", err)
	}

	b, err := ix.loadBase(req)
	if err != nil {
		return err
	}

	mode := req.ReuseMode
	if ix.opts.Cache == nil || mode == "" {
		mode = reuse.ModeOff
	}
	consultReuse := mode != reuse.ModeOff && b.rebuild

	scanStart := time.Now()
	progress.OnScanStart()
	var entries []walker.Entry
	if req.Hint == nil || b.rebuild {
		if entries, err = files.Walk(ctx); err != nil {
			return err
		}
		if entries == nil {
			entries = []walker.Entry{}
		}
	}

	res.Reuse = reuse.Outcome{Mode: mode, Decision: reuse.DecisionOff}
	if consultReuse {
		reuseStart := time.Now()
		rep.Phase(status.PhaseReusing, "consulting reuse cache")
		if err := ix.restore(ctx, mode, profile, entries, b, res); err != nil {
			return err
		}
		res.Timings.Reuse = time.Since(reuseStart)
		rep.SetReuse(string(res.Reuse.Decision), res.Reuse.Source, res.Reuse.Reason)
		rep.Phase(status.PhaseScanning, "scanning workspace")
	}

	detector := NewChangeDetector(files, ix.opts.HashWorkers)
	var det *Detection
	if entries != nil {
		det, err = detector.Detect(ctx, b.manifest, entries)
	} else {
		det, err = detector.DetectPaths(ctx, b.manifest, req.Hint)
	}
	if err != nil {
		return err
	}
	mergeInvalid(&det.Diff, b.invalid)

	res.Rebuilt = b.rebuild
	res.Diff = det.Diff
	res.Touched = len(det.Touched)
	res.Unchanged = max(0, b.manifest.Len()-len(det.Diff.Modified)-len(det.Diff.Deleted))
	res.Stats = det.Stats
	res.Timings.Scan = time.Since(scanStart) - res.Timings.Reuse
	progress.OnScanComplete(det.Diff.Len(), det.Stats)

	// An empty diff on top of the committed generation needs no new
	// generation. Seeding from a snapshot or from nothing always commits so
	// the workspace ends up with its own generation.
	if det.Diff.Empty() && b.dir != "" && b.dir == ix.generationDir(b.generation) {
		res.Generation = b.generation
		res.Files = b.manifest.Len()
		if len(det.Records) > 0 {
			refreshStart := time.Now()
			refreshed, err := NewBuilder(ix.layout, files, ix.opts.Extractor, ix.opts.MaxFileSize, ix.log).
				Refresh(b.generation, b.manifest, det.Records)
			if err != nil {
				return err
			}
			res.Files = refreshed.Len()
			res.Timings.Commit = time.Since(refreshStart)
			ix.log.Debug().Int("touched", len(det.Touched)).Msg("manifest stat refreshed")
		}
		ix.writeBack(ctx, mode, profile, entries, res)
		return nil
	}

	res.Bulk = req.Bulk || scheduler.IsBulk(det.Diff.Len(), b.manifest.Len())
	builder := NewBuilder(ix.layout, files, ix.opts.Extractor, ix.opts.MaxFileSize, ix.log)
	applyStart := time.Now()
	applied, err := builder.Apply(ctx, ApplyRequest{
		BaseDir:  b.dir,
		Previous: b.manifest,
		Diff:     det.Diff,
		Records:  det.Records,
		Bulk:     res.Bulk,
		Keep:     b.generation,
	}, progress)
	if err != nil {
		return err
	}

	res.Timings.Commit = applied.CommitTook
	res.Timings.Index = time.Since(applyStart) - applied.CommitTook
	res.Committed = true
	res.Generation = applied.Generation
	res.Processed = applied.Processed
	res.Failed = applied.Failed
	res.Failures = applied.Failures
	res.Files = applied.Manifest.Len()

	ix.writeBack(ctx, mode, profile, entries, res)
	return nil
}

func (ix *Indexer) profile(req Request) (manifest.IndexProfile, error) {
	if req.Profile != nil {
		return req.Profile.Normalized(), nil
	}
	p, ok, err := manifest.LoadProfile(ix.layout.StateDir)
	if err != nil {
		ix.log.Warn().Err(err).Msg("unreadable index profile, using defaults")
		return manifest.DefaultProfile(), nil
	}
	if !ok {
		return manifest.DefaultProfile(), nil
	}
	return p, nil
}

// loadBase finds the committed generation and its manifest. A corrupt or
// incompatible manifest turns the build into a full rebuild.
func (ix *Indexer) loadBase(req Request) (*base, error) {
	gen, err := ix.layout.CurrentGeneration()
	if err != nil {
		return nil, err
	}
	b := &base{generation: gen, manifest: manifest.New()}
	if gen == "" {
		b.rebuild = true
		return b, nil
	}
	m, err := manifest.Load(workspace.ManifestDir(ix.generationDir(gen)))
	if req.Full {
		b.rebuild = true
		if err == nil {
			b.rootHash = m.RootHash
		}
		return b, nil
	}
	switch {
	case err == nil && !ix.schemaCurrent(gen):
		b.rebuild = true
	case err == nil:
		b.manifest = m
		b.dir = ix.generationDir(gen)
	case manifest.NeedsRebuild(err):
		ix.log.Warn().Err(err).Str("generation", gen).Msg("manifest unusable, rebuilding")
		b.rebuild = true
	default:
		return nil, err
	}
	return b, nil
}

// schemaCurrent reports whether gen's engines can be updated in place. A
// generation without a stamp is assumed current.
func (ix *Indexer) schemaCurrent(gen string) bool {
	v, err := storage.ReadSchema(workspace.SchemaPath(ix.generationDir(gen)))
	if err != nil || v == storage.SchemaVersion {
		return true
	}
	ix.log.Warn().Str("generation", gen).Str("schema", v).Str("want", storage.SchemaVersion).Msg("engine schema changed, rebuilding")
	return false
}

// restore consults the reuse cache and, on a hit, seeds b from the snapshot
// after the safety gate has filtered its manifest.
func (ix *Indexer) restore(ctx context.Context, mode reuse.Mode, profile manifest.IndexProfile, entries []walker.Entry, b *base, res *Result) error {
	ws := reuse.Workspace{Root: ix.layout.Root, Profile: profile, Entries: entries, RootHash: b.rootHash}
	cand, outcome, err := ix.opts.Cache.Resolve(ctx, mode, ws)
	if err != nil {
		return err
	}

	if cand != nil {
		gate, err := reuse.Validate(ctx, ix.layout.Root, cand.Manifest, ix.opts.HashWorkers)
		if err != nil {
			return err
		}
		b.dir = cand.Dir
		b.manifest = gate.Manifest
		b.invalid = gate.Invalid
		ix.log.Info().
			Str("snapshot", outcome.SnapshotKey).
			Int("kept", gate.Kept).
			Int("rehashed", gate.Rehashed).
			Int("invalid", len(gate.Invalid)).
			Msg("restored index from snapshot")
	}

	res.Reuse = outcome
	if err := reuse.SaveState(ix.layout.ReuseStatePath(), outcome); err != nil {
		ix.log.Warn().Err(err).Msg("failed to persist reuse diagnostics")
	}
	if outcome.Reason != "" {
		ix.log.Info().Str("decision", string(outcome.Decision)).Str("reason", outcome.Reason).Msg("reuse not applied")
	}
	return nil
}

// writeBack publishes the committed generation to the snapshot cache. It
// needs a full walk for the fingerprint, so hinted runs skip it. Failures
// never fail the build.
func (ix *Indexer) writeBack(ctx context.Context, mode reuse.Mode, profile manifest.IndexProfile, entries []walker.Entry, res *Result) {
	if mode == reuse.ModeOff || entries == nil || res.Generation == "" {
		return
	}
	dir := ix.generationDir(res.Generation)
	m, err := manifest.Load(workspace.ManifestDir(dir))
	if err != nil {
		ix.log.Warn().Err(err).Msg("skipping snapshot write-back")
		return
	}
	ws := reuse.Workspace{Root: ix.layout.Root, Profile: profile, Entries: entries}
	stored, err := ix.opts.Cache.Store(ctx, ws, dir, m)
	if err != nil {
		ix.log.Warn().Err(err).Msg("snapshot write-back failed")
		return
	}
	res.Snapshot = stored
}

func (ix *Indexer) generationDir(id string) string {
	if id == "" {
		return ""
	}
	return ix.layout.GenerationDir(id)
}

// mergeInvalid schedules gate-rejected paths for deletion unless detection
// already re-adds them, in which case the upsert overwrites the stale entry.
func mergeInvalid(d *manifest.Diff, invalid []string) {
	if len(invalid) == 0 {
		return
	}
	added := make(map[string]struct{}, len(d.Added))
	for _, p := range d.Added {
		added[p] = struct{}{}
	}
	for _, p := range invalid {
		if _, ok := added[p]; !ok {
			d.Deleted = append(d.Deleted, p)
		}
	}
	d.Sort()
}

// statusProgress mirrors builder progress into status.json.
type statusProgress struct {
	rep       *status.Reporter
	processed int
	failed    int
}

func (s *statusProgress) OnScanStart() {
	s.rep.Phase(status.PhaseScanning, "scanning workspace")
}

func (s *statusProgress) OnScanComplete(changed int, _ DetectStats) {
	s.rep.SetTotal(changed)
}

func (s *statusProgress) OnApplyStart(total int) {
	s.rep.Phase(status.PhaseIndexing, fmt.Sprintf("indexing %d paths", total))
}

func (s *statusProgress) OnFileApplied(_ string, err error) {
	if err != nil {
		s.failed++
	} else {
		s.processed++
	}
	s.rep.Progress(s.processed, s.failed)
}

func (s *statusProgress) OnCommit() {
	s.rep.Progress(s.processed, s.failed)
	s.rep.Phase(status.PhaseCommitting, "committing generation")
}

func (s *statusProgress) OnComplete(*Result) {}
