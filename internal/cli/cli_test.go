package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/search"
	"github.com/mvp-joe/cortex-index/internal/status"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// Test plan for the CLI:
// 1. Formatting helpers (duration, time since, numbers)
// 2. Auto-index kill switch and cooldown stamp
// 3. Human status output for an interrupted build with a stale daemon
// 4. index → status → search round trip through the command tree
// 5. index persists the profile built from its flags
// 6. daemon status/stop on a workspace without a daemon
// 7. Human stats output and stats/doctor after an index run
// 8. doctor fails on a workspace that was never indexed

func resetFlags() {
	rootPath = "."
	verbose = false
	indexReuse = ""
	indexNoIgnore = false
	indexInclude = nil
	indexExclude = nil
	indexFull = false
	indexBackground = false
	indexDetached = false
	indexWait = 0
	quietFlag = false
	statusJSON = false
	daemonStatusJSON = false
	searchLimit = 20
	searchJSON = false
	searchSymbols = false
	statsJSON = false
	doctorJSON = false
}

// executeCommand runs the real command tree in an isolated environment.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CORTEX_REUSE_CACHE_DIR", t.TempDir())
	t.Setenv(autoIndexEnv, "1")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc Serve() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# Service\n\nHandles requests.\n"), 0644))
	return root
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h 30m"},
		{27 * time.Hour, "1d 3h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestFormatTimeSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", formatTimeSince(time.Time{}, now))
	assert.Equal(t, "5m ago", formatTimeSince(now.Add(-5*time.Minute), now))
	assert.Equal(t, "0s ago", formatTimeSince(now.Add(time.Minute), now))
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,234", formatNumber(1234))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))
}

func TestAutoIndexDisabled(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE"} {
		t.Setenv(autoIndexEnv, v)
		assert.True(t, autoIndexDisabled(), v)
	}
	for _, v := range []string{"", "0", "no"} {
		t.Setenv(autoIndexEnv, v)
		assert.False(t, autoIndexDisabled(), v)
	}
}

func TestStampFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auto-index.stamp")
	assert.False(t, stampFresh(path, time.Now()), "missing stamp")

	require.NoError(t, touchStamp(path))
	assert.True(t, stampFresh(path, time.Now()))
	assert.False(t, stampFresh(path, time.Now().Add(autoIndexCooldown)))
}

func TestFormatStatus_InterruptedWithStaleDaemon(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pid := 4242
	rec := status.Record{
		Phase:      status.PhaseInterrupted,
		Generation: "gen-1",
		BasicReady: true,
		Progress:   status.Progress{Total: 10, Processed: 4, Failed: 1},
		Reuse:      &status.Reuse{Decision: "miss", Reason: "strict_snapshot_missing"},
		Daemon:     status.Daemon{Stale: true, PID: &pid},
		UpdatedAt:  now.Add(-2 * time.Minute),
		Message:    "index process is not running",
	}

	var buf bytes.Buffer
	formatStatus(&buf, rec, now)
	out := buf.String()

	assert.Contains(t, out, "Phase:      interrupted")
	assert.Contains(t, out, "basic=yes full=no")
	assert.Contains(t, out, "4/10 (1 failed)")
	assert.Contains(t, out, "miss (strict_snapshot_missing)")
	assert.Contains(t, out, "2m ago")
	assert.Contains(t, out, "Daemon: stale (pid 4242 not alive)")
}

func TestCommands_IndexStatusSearch(t *testing.T) {
	root := isolate(t)

	out, err := executeCommand(t, "index", "--path", root, "--quiet")
	require.NoError(t, err, out)
	assert.Contains(t, out, "files=2")

	out, err = executeCommand(t, "status", "--path", root, "--json")
	require.NoError(t, err, out)
	var rec status.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, status.PhaseComplete, rec.Phase)
	assert.True(t, rec.BasicReady)
	assert.True(t, rec.FullReady)
	assert.False(t, rec.Daemon.Running)

	out, err = executeCommand(t, "search", "--path", root, "--json", "requests")
	require.NoError(t, err, out)
	var res search.Results
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "README.md", res.Hits[0].Path)
	assert.Equal(t, rec.Generation, res.Generation)

	out, err = executeCommand(t, "search", "--path", root, "--symbols", "Serve")
	require.NoError(t, err, out)
	assert.Contains(t, out, "main.go:")
	assert.Contains(t, out, "Serve")
}

func TestCommands_IndexSavesProfile(t *testing.T) {
	root := isolate(t)

	out, err := executeCommand(t, "index", "--path", root, "--quiet", "--no-ignore",
		"--exclude", "vendor/**", "--include", "build/gen.go")
	require.NoError(t, err, out)

	layout, err := workspace.New(root)
	require.NoError(t, err)
	p, ok, err := manifest.LoadProfile(layout.StateDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, p.RespectIgnore)
	assert.Equal(t, []string{"vendor/**"}, p.Exclude)
	assert.Equal(t, []string{"build/gen.go"}, p.Include)
}

func TestCommands_SearchWithoutIndex(t *testing.T) {
	root := isolate(t)

	_, err := executeCommand(t, "search", "--path", root, "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index yet")
}

func TestCommands_SearchAutoIndexes(t *testing.T) {
	root := isolate(t)
	t.Setenv(autoIndexEnv, "")

	out, err := executeCommand(t, "search", "--path", root, "--json", "requests")
	require.NoError(t, err, out)
	var res search.Results
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Hits, 1)

	layout, err := workspace.New(root)
	require.NoError(t, err)
	assert.FileExists(t, layout.AutoIndexStamp())
}

func TestCommands_DaemonWithoutDaemon(t *testing.T) {
	root := isolate(t)

	out, err := executeCommand(t, "daemon", "status", "--path", root)
	require.NoError(t, err, out)
	assert.Equal(t, "Daemon: not running", strings.TrimSpace(out))

	out, err = executeCommand(t, "daemon", "stop", "--path", root)
	require.NoError(t, err, out)
	assert.Equal(t, "Daemon not running", strings.TrimSpace(out))
}

func TestFormatStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := status.RunStats{
		BuildID:    "build-7",
		Generation: "gen-7",
		FinishedAt: now.Add(-5 * time.Minute),
		Committed:  true,
		Bulk:       true,
		Diff:       status.DiffCounts{Added: 2, Modified: 3, Deleted: 1, Unchanged: 1200, Touched: 4},
		Detect:     status.DetectCounts{Scanned: 1206, Suspects: 9, Hashed: 9},
		Processed:  5,
		Files:      1205,
		Reuse:      "off",
		TimingsMS:  status.Timings{Scan: 40, Index: 1500, Commit: 12, Total: 1560},
	}

	var buf bytes.Buffer
	formatStats(&buf, st, now)
	out := buf.String()

	assert.Contains(t, out, "Finished:   5m ago")
	assert.Contains(t, out, "Mode:       incremental, bulk")
	assert.Contains(t, out, "+2 ~3 -1 (1,200 unchanged, 4 touched)")
	assert.Contains(t, out, "1,206 scanned, 9 suspects, 9 hashed")
	assert.Contains(t, out, "5 processed, 0 failed, 1,205 files")
	assert.Contains(t, out, "scan 40ms, index 1.5s, commit 12ms, total 1.56s")
}

func TestCommands_StatsAndDoctor(t *testing.T) {
	root := isolate(t)

	out, err := executeCommand(t, "stats", "--path", root)
	require.NoError(t, err, out)
	assert.Equal(t, "No completed build recorded", strings.TrimSpace(out))

	out, err = executeCommand(t, "index", "--path", root, "--quiet")
	require.NoError(t, err, out)

	out, err = executeCommand(t, "stats", "--path", root, "--json")
	require.NoError(t, err, out)
	var st status.RunStats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Committed)
	assert.True(t, st.Rebuilt)
	assert.Equal(t, 2, st.Diff.Added)
	assert.Equal(t, 2, st.Files)

	out, err = executeCommand(t, "doctor", "--path", root)
	require.NoError(t, err, out)
	assert.Contains(t, out, "[ok  ] manifest")
	assert.Contains(t, out, "[ok  ] index schema")
	assert.NotContains(t, out, "[fail]")
}

func TestCommands_DoctorWithoutIndex(t *testing.T) {
	root := isolate(t)

	out, err := executeCommand(t, "doctor", "--path", root, "--json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 check(s) failed")
	assert.Contains(t, out, `"severity": "fail"`)
}
