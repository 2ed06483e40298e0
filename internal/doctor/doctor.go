// Package doctor inspects a workspace's index state and reports problems
// that a build or a daemon restart would not fix on its own.
package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/mvp-joe/cortex-index/internal/daemon/state"
	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/lock"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/status"
	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// Severity grades a check.
type Severity string

const (
	OK   Severity = "ok"
	Warn Severity = "warn"
	Fail Severity = "fail"
)

// Check is one diagnostic.
type Check struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Report is the outcome of Run, in check order.
type Report struct {
	Checks []Check `json:"checks"`
}

// Failed counts checks with Fail severity.
func (r Report) Failed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Severity == Fail {
			n++
		}
	}
	return n
}

func (r *Report) add(name string, sev Severity, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Severity: sev, Detail: fmt.Sprintf(format, args...)})
}

// Run inspects layout. Engines are opened read-only; the only writes are
// the stale-status recovery status.Read performs anyway.
func Run(ctx context.Context, layout workspace.Layout) Report {
	var r Report
	if !fsutil.DirExists(layout.StateDir) {
		r.add("state", Fail, "%s does not exist; run cortex index", layout.StateDir)
		return r
	}

	if gen, ok := checkGeneration(&r, layout); ok {
		dir := layout.GenerationDir(gen)
		checkManifest(&r, dir)
		checkSchema(&r, dir)
		checkEngines(ctx, &r, dir)
	}
	checkProfile(&r, layout)
	checkBuild(&r, layout)
	checkDaemon(&r, layout)
	checkStats(&r, layout)
	return r
}

func checkGeneration(r *Report, layout workspace.Layout) (string, bool) {
	const name = "current generation"
	gen, err := layout.CurrentGeneration()
	if err != nil {
		r.add(name, Fail, "CURRENT is unreadable: %v", err)
		return "", false
	}
	if gen == "" {
		// CURRENT naming a pruned or deleted directory reads as empty too.
		r.add(name, Fail, "no committed generation; run cortex index")
		return "", false
	}
	gens, err := layout.Generations()
	if err != nil {
		r.add(name, Fail, "cannot list generations: %v", err)
		return "", false
	}
	r.add(name, OK, "%s (%d on disk)", gen, len(gens))
	return gen, true
}

func checkManifest(r *Report, dir string) {
	const name = "manifest"
	m, err := manifest.Load(workspace.ManifestDir(dir))
	switch {
	case manifest.NeedsRebuild(err):
		r.add(name, Fail, "%v; run cortex index --full", err)
	case err != nil:
		r.add(name, Fail, "%v", err)
	default:
		r.add(name, OK, "v%d, %d files", manifest.Version, m.Len())
	}
}

func checkSchema(r *Report, dir string) {
	const name = "index schema"
	v, err := storage.ReadSchema(workspace.SchemaPath(dir))
	switch {
	case errors.Is(err, storage.ErrSchemaUnknown):
		r.add(name, Warn, "generation has no schema stamp")
	case err != nil:
		r.add(name, Fail, "%v", err)
	case v != storage.SchemaVersion:
		r.add(name, Fail, "built with %s, this binary writes %s; the next build rebuilds", v, storage.SchemaVersion)
	default:
		r.add(name, OK, "%s", v)
	}
}

func checkEngines(ctx context.Context, r *Report, dir string) {
	const name = "engines"
	fts, err := storage.OpenFTSIndex(workspace.IndexDir(dir), true)
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	defer fts.Close()
	docs, err := fts.Count()
	if err != nil {
		r.add(name, Fail, "full-text index: %v", err)
		return
	}

	syms, err := storage.OpenSymbolStore(workspace.SymbolsPath(dir), true)
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	defer syms.Close()
	// An empty name matches nothing but still needs the symbols table.
	if _, err := syms.Find(ctx, ""); err != nil {
		r.add(name, Fail, "symbol store: %v", err)
		return
	}
	r.add(name, OK, "%d documents", docs)
}

func checkProfile(r *Report, layout workspace.Layout) {
	const name = "profile"
	p, ok, err := manifest.LoadProfile(layout.StateDir)
	switch {
	case err != nil:
		r.add(name, Warn, "%v; builds fall back to defaults", err)
	case !ok:
		r.add(name, OK, "default")
	default:
		r.add(name, OK, "%s", p.Hash())
	}
}

func checkBuild(r *Report, layout workspace.Layout) {
	const name = "build"
	rec, err := status.Read(layout)
	if err != nil {
		r.add(name, Warn, "%v", err)
		return
	}
	switch {
	case lock.Held(layout.LockPath()):
		r.add(name, OK, "in progress (%s)", rec.Phase)
	case rec.Phase.InProgress():
		r.add(name, Warn, "status reports %s but no process holds the build lock", rec.Phase)
	case rec.Phase == status.PhaseFailed:
		r.add(name, Warn, "last build failed: %s", rec.Message)
	default:
		r.add(name, OK, "%s", rec.Phase)
	}
}

func checkDaemon(r *Report, layout workspace.Layout) {
	const name = "daemon"
	s, l := state.Inspect(layout.DaemonStatePath())
	switch {
	case l == state.Running:
		r.add(name, OK, "running (pid %d)", s.PID)
	case l == state.Stale && s != nil:
		r.add(name, Warn, "daemon.json names pid %d which is not alive; run cortex daemon stop", s.PID)
	case l == state.Stale:
		r.add(name, Warn, "daemon.json is unreadable; run cortex daemon stop")
	default:
		r.add(name, OK, "not running")
	}
}

func checkStats(r *Report, layout workspace.Layout) {
	const name = "last run"
	s, ok, err := status.ReadStats(layout)
	switch {
	case err != nil:
		r.add(name, Warn, "%v", err)
	case !ok:
		r.add(name, OK, "no completed build recorded")
	default:
		r.add(name, OK, "%s, %d files in %dms", s.BuildID, s.Files, s.TimingsMS.Total)
	}
}
