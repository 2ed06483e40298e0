package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mvp-joe/cortex-index/internal/indexer"
)

// CLIProgressReporter implements progress reporting with progress bars.
type CLIProgressReporter struct {
	out       io.Writer
	quiet     bool
	fileBar   *progressbar.ProgressBar
	startTime time.Time
	failed    int
}

// NewCLIProgressReporter creates a new CLI progress reporter writing
// messages to out. The bar itself goes to stderr.
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{
		out:       out,
		quiet:     quiet,
		startTime: time.Now(),
	}
}

func (c *CLIProgressReporter) OnScanStart() {
	if c.quiet {
		return
	}
	fmt.Fprintln(c.out, "Scanning workspace...")
}

func (c *CLIProgressReporter) OnScanComplete(changed int, stats indexer.DetectStats) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s changed (%s scanned, %s hashed)\n",
		formatNumber(changed), formatNumber(stats.Scanned), formatNumber(stats.Hashed))
}

func (c *CLIProgressReporter) OnApplyStart(total int) {
	if c.quiet || total == 0 {
		return
	}
	c.fileBar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Indexing files"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func (c *CLIProgressReporter) OnFileApplied(path string, err error) {
	if err != nil {
		c.failed++
	}
	if c.quiet || c.fileBar == nil {
		return
	}
	c.fileBar.Add(1)
}

func (c *CLIProgressReporter) OnCommit() {
	if c.fileBar != nil {
		c.fileBar.Finish()
		c.fileBar = nil
	}
}

func (c *CLIProgressReporter) OnComplete(res *indexer.Result) {
	if c.quiet {
		return
	}

	if !res.Committed {
		fmt.Fprintf(c.out, "✓ Index up to date: %s files (%.1fs)\n",
			formatNumber(res.Files), time.Since(c.startTime).Seconds())
		return
	}
	fmt.Fprintf(c.out, "✓ Indexing complete: generation %s in %.1fs\n", res.Generation, time.Since(c.startTime).Seconds())
	fmt.Fprintf(c.out, "  Added:    %s\n", formatNumber(len(res.Diff.Added)))
	fmt.Fprintf(c.out, "  Modified: %s\n", formatNumber(len(res.Diff.Modified)))
	fmt.Fprintf(c.out, "  Deleted:  %s\n", formatNumber(len(res.Diff.Deleted)))
	fmt.Fprintf(c.out, "  Files:    %s\n", formatNumber(res.Files))
	if c.failed > 0 {
		fmt.Fprintf(c.out, "  Failed:   %s (see log)\n", formatNumber(c.failed))
	}
	if res.Reuse.Decision != "" && res.Reuse.Decision != "off" {
		fmt.Fprintf(c.out, "  Reuse:    %s\n", res.Reuse.Decision)
	}
}
