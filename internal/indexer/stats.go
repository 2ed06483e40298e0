package indexer

import (
	"time"

	"github.com/mvp-joe/cortex-index/internal/status"
)

// Timings are the wall times of the build phases. Reuse is zero when the
// cache was not consulted; Index and Commit are zero for no-op builds.
type Timings struct {
	Reuse  time.Duration
	Scan   time.Duration
	Index  time.Duration
	Commit time.Duration
}

func (r *Result) runStats(background bool) status.RunStats {
	return status.RunStats{
		BuildID:    r.BuildID,
		Generation: r.Generation,
		FinishedAt: time.Now().UTC(),
		Background: background,
		Committed:  r.Committed,
		Rebuilt:    r.Rebuilt,
		Bulk:       r.Bulk,
		Diff: status.DiffCounts{
			Added:     len(r.Diff.Added),
			Modified:  len(r.Diff.Modified),
			Deleted:   len(r.Diff.Deleted),
			Unchanged: r.Unchanged,
			Touched:   r.Touched,
		},
		Detect: status.DetectCounts{
			Scanned:  r.Stats.Scanned,
			Suspects: r.Stats.Suspects,
			Hashed:   r.Stats.Hashed,
		},
		Processed: r.Processed,
		Failed:    r.Failed,
		Files:     r.Files,
		Reuse:     string(r.Reuse.Decision),
		TimingsMS: status.Timings{
			Reuse:  r.Timings.Reuse.Milliseconds(),
			Scan:   r.Timings.Scan.Milliseconds(),
			Index:  r.Timings.Index.Milliseconds(),
			Commit: r.Timings.Commit.Milliseconds(),
			Total:  r.Duration.Milliseconds(),
		},
	}
}
