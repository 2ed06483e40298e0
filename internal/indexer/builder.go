package indexer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/symbols"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// binarySniffSize is how much of a file is checked for NUL bytes.
const binarySniffSize = 8 * 1024

// ApplyRequest describes one generation build.
type ApplyRequest struct {
	// BaseDir is a committed generation or cached snapshot whose index and
	// symbol artifacts seed the new generation. Empty builds from nothing.
	BaseDir string

	// Previous is the manifest that matches BaseDir's artifacts.
	Previous *manifest.Manifest

	Diff    manifest.Diff
	Records map[string]manifest.FileRecord

	// Bulk applies every change in batched writes instead of one write per file.
	Bulk bool

	// Keep is a generation id that survives pruning besides the new one.
	Keep string
}

// ApplyResult is the outcome of a committed generation build.
type ApplyResult struct {
	Generation string
	Manifest   *manifest.Manifest
	Processed  int
	Failed     int
	Failures   []*FileError

	// CommitTook covers closing the engines through promotion.
	CommitTook time.Duration
}

// Builder applies diffs to the full-text and symbol engines and commits the
// result as a new generation.
type Builder struct {
	layout      workspace.Layout
	files       FileSource
	extractor   symbols.Extractor
	maxFileSize int64
	log         zerolog.Logger
}

// NewBuilder creates a builder writing generations under layout.
func NewBuilder(layout workspace.Layout, files FileSource, extractor symbols.Extractor, maxFileSize int64, log zerolog.Logger) *Builder {
	return &Builder{
		layout:      layout,
		files:       files,
		extractor:   extractor,
		maxFileSize: maxFileSize,
		log:         log,
	}
}

// Apply builds a new generation in a staging directory and promotes it.
//
// Nothing outside the staging directory is touched until every artifact is
// written and closed. Cancellation before the promotion discards the staging
// directory and leaves the committed generation authoritative.
func (b *Builder) Apply(ctx context.Context, req ApplyRequest, progress ProgressReporter) (res *ApplyResult, err error) {
	if progress == nil {
		progress = NoOpProgressReporter{}
	}

	id, staging, err := b.layout.NewStaging()
	if err != nil {
		return nil, err
	}
	promoted := false
	defer func() {
		if !promoted {
			os.RemoveAll(staging)
		}
	}()

	fts, syms, err := b.openEngines(staging, req.BaseDir)
	if err != nil {
		return nil, err
	}
	enginesOpen := true
	defer func() {
		if enginesOpen {
			syms.Close()
			fts.Close()
		}
	}()

	if req.Bulk {
		fts.BeginBatch()
		// The tx must outlive ctx so a late cancel is seen at the commit
		// point instead of as a failed symbol commit.
		if err := syms.Begin(context.Background()); err != nil {
			return nil, buildError("symbols", err)
		}
	}

	records := make(map[string]manifest.FileRecord, len(req.Records))
	for p, rec := range req.Records {
		records[p] = rec
	}

	res = &ApplyResult{Generation: id}
	progress.OnApplyStart(req.Diff.Len())

	for _, p := range req.Diff.Deleted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fts.Delete(p); err != nil {
			return nil, buildError("full-text delete", err)
		}
		if err := syms.DeleteFile(ctx, p); err != nil {
			return nil, buildError("symbol delete", err)
		}
		res.Processed++
		progress.OnFileApplied(p, nil)
	}

	for _, p := range req.Diff.Changed() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, ok := records[p]
		if !ok {
			rec = manifest.FileRecord{Path: p}
		}

		rec, ferr, err := b.applyFile(ctx, fts, syms, rec)
		if err != nil {
			return nil, err
		}
		if ferr != nil {
			// The previous record, if any, stays so the path is retried next run.
			delete(records, p)
			res.Failed++
			res.Failures = append(res.Failures, ferr)
			b.log.Warn().Err(ferr.Err).Str("path", p).Str("op", ferr.Op).Msg("skipping file")
		} else {
			records[p] = rec
			res.Processed++
		}
		progress.OnFileApplied(p, asError(ferr))
	}

	commitStart := time.Now()
	enginesOpen = false
	symErr := syms.Commit()
	if err := syms.Close(); err != nil && symErr == nil {
		symErr = err
	}
	ftsErr := fts.Close()
	if symErr != nil {
		return nil, buildError("symbols", symErr)
	}
	if ftsErr != nil {
		return nil, buildError("full-text", ftsErr)
	}

	if err := storage.WriteSchema(workspace.SchemaPath(staging)); err != nil {
		return nil, err
	}
	next := manifest.Apply(req.Previous, req.Diff, records)
	if err := manifest.Commit(workspace.ManifestDir(staging), next); err != nil {
		return nil, err
	}

	// Commit point: past here the new generation becomes visible.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress.OnCommit()

	if err := b.layout.Promote(id, staging); err != nil {
		return nil, err
	}
	promoted = true
	res.CommitTook = time.Since(commitStart)

	if err := b.layout.Prune(id, req.Keep); err != nil {
		b.log.Warn().Err(err).Msg("failed to prune old generations")
	}

	res.Manifest = next
	return res, nil
}

// Refresh rewrites the manifest of a committed generation in place when only
// stat information changed. The index artifacts are untouched.
func (b *Builder) Refresh(generation string, prev *manifest.Manifest, records map[string]manifest.FileRecord) (*manifest.Manifest, error) {
	next := manifest.Apply(prev, manifest.Diff{}, records)
	if err := manifest.Commit(workspace.ManifestDir(b.layout.GenerationDir(generation)), next); err != nil {
		return nil, err
	}
	return next, nil
}

func (b *Builder) openEngines(staging, baseDir string) (*storage.FTSIndex, *storage.SymbolStore, error) {
	var (
		fts *storage.FTSIndex
		err error
	)
	if baseDir != "" {
		if err := fsutil.CopyDir(workspace.IndexDir(baseDir), workspace.IndexDir(staging)); err != nil {
			return nil, nil, buildError("seed full-text index", err)
		}
		if err := fsutil.CopyDir(workspace.SymbolsDir(baseDir), workspace.SymbolsDir(staging)); err != nil {
			return nil, nil, buildError("seed symbols", err)
		}
		fts, err = storage.OpenFTSIndex(workspace.IndexDir(staging), false)
	} else {
		fts, err = storage.CreateFTSIndex(workspace.IndexDir(staging))
	}
	if err != nil {
		return nil, nil, buildError("full-text", err)
	}

	syms, err := storage.OpenSymbolStore(workspace.SymbolsPath(staging), false)
	if err != nil {
		fts.Close()
		return nil, nil, buildError("symbols", err)
	}
	return fts, syms, nil
}

// applyFile reads one changed file and writes it to both engines. Read
// failures are returned as a FileError; engine failures as an error.
func (b *Builder) applyFile(ctx context.Context, fts *storage.FTSIndex, syms *storage.SymbolStore, rec manifest.FileRecord) (manifest.FileRecord, *FileError, error) {
	abs := b.files.Abs(rec.Path)
	content, err := os.ReadFile(abs)
	if err != nil {
		return rec, &FileError{Path: rec.Path, Op: "read", Err: err}, nil
	}

	// The file may have changed since detection; keep the record honest.
	if info, err := os.Stat(abs); err == nil {
		if rec.Hash == "" || info.Size() != rec.Size || info.ModTime().UnixNano() != rec.MTime {
			rec.Size = info.Size()
			rec.MTime = info.ModTime().UnixNano()
			rec.Hash = manifest.HashBytes(content)
		}
	}

	if (b.maxFileSize > 0 && int64(len(content)) > b.maxFileSize) || isBinary(content) {
		// Tracked but not searchable.
		if err := fts.Delete(rec.Path); err != nil {
			return rec, nil, buildError("full-text delete", err)
		}
		if err := syms.DeleteFile(ctx, rec.Path); err != nil {
			return rec, nil, buildError("symbol delete", err)
		}
		return rec, nil, nil
	}

	extracted, err := b.extractor.Extract(ctx, rec.Path, content, rec.Language)
	if err != nil {
		if ctx.Err() != nil {
			return rec, nil, ctx.Err()
		}
		b.log.Debug().Err(err).Str("path", rec.Path).Msg("partial symbol extraction")
	}

	rows := make([]storage.SymbolRow, 0, len(extracted))
	names := make([]string, 0, len(extracted))
	for _, s := range extracted {
		rows = append(rows, storage.SymbolRow{Path: rec.Path, Name: s.Name, Kind: s.Kind, StartLine: s.StartLine, EndLine: s.EndLine})
		names = append(names, s.Name)
	}

	if err := fts.Upsert(storage.Document{Path: rec.Path, Language: rec.Language, Content: string(content), Symbols: names}); err != nil {
		return rec, nil, buildError("full-text", err)
	}
	if err := syms.ReplaceFile(ctx, rec.Path, rows); err != nil {
		return rec, nil, buildError("symbols", err)
	}
	return rec, nil, nil
}

func isBinary(content []byte) bool {
	n := len(content)
	if n > binarySniffSize {
		n = binarySniffSize
	}
	return bytes.IndexByte(content[:n], 0) >= 0
}

func asError(ferr *FileError) error {
	if ferr == nil {
		return nil
	}
	return ferr
}

// String renders a short summary for logs.
func (r *ApplyResult) String() string {
	return fmt.Sprintf("generation=%s processed=%d failed=%d", r.Generation, r.Processed, r.Failed)
}
