package indexer

// ProgressReporter provides callbacks for reporting indexing progress.
// Implementations can display progress bars, log messages, or remain silent.
type ProgressReporter interface {
	// OnScanStart is called before the workspace is walked and compared.
	OnScanStart()

	// OnScanComplete is called with the computed diff size and detector stats.
	OnScanComplete(changed int, stats DetectStats)

	// OnApplyStart is called before changed paths are applied.
	OnApplyStart(total int)

	// OnFileApplied is called after each path; err is non-nil for per-file failures.
	OnFileApplied(path string, err error)

	// OnCommit is called right before the new generation is committed.
	OnCommit()

	// OnComplete is called when the build has committed.
	OnComplete(result *Result)
}

// NoOpProgressReporter is a progress reporter that does nothing.
// Used when progress reporting is disabled (e.g., --quiet flag).
type NoOpProgressReporter struct{}

func (NoOpProgressReporter) OnScanStart()                    {}
func (NoOpProgressReporter) OnScanComplete(int, DetectStats) {}
func (NoOpProgressReporter) OnApplyStart(int)                {}
func (NoOpProgressReporter) OnFileApplied(string, error)     {}
func (NoOpProgressReporter) OnCommit()                       {}
func (NoOpProgressReporter) OnComplete(*Result)              {}

// multiReporter fans callbacks out to several reporters.
type multiReporter []ProgressReporter

func (m multiReporter) OnScanStart() {
	for _, r := range m {
		r.OnScanStart()
	}
}

func (m multiReporter) OnScanComplete(changed int, stats DetectStats) {
	for _, r := range m {
		r.OnScanComplete(changed, stats)
	}
}

func (m multiReporter) OnApplyStart(total int) {
	for _, r := range m {
		r.OnApplyStart(total)
	}
}

func (m multiReporter) OnFileApplied(path string, err error) {
	for _, r := range m {
		r.OnFileApplied(path, err)
	}
}

func (m multiReporter) OnCommit() {
	for _, r := range m {
		r.OnCommit()
	}
}

func (m multiReporter) OnComplete(result *Result) {
	for _, r := range m {
		r.OnComplete(result)
	}
}
