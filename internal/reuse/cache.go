package reuse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/git"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/walker"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// maxAutoCandidates bounds how many snapshots auto mode scores.
const maxAutoCandidates = 64

// Workspace is what the cache needs to know about the tree being indexed.
type Workspace struct {
	Root    string
	Profile manifest.IndexProfile
	// Entries is the current walk, used for fingerprinting.
	Entries []walker.Entry
	// RootHash of an existing local manifest, if any. Auto mode picks a
	// snapshot with an identical manifest without scoring.
	RootHash string
}

// Candidate is a snapshot selected for restore.
type Candidate struct {
	Dir      string
	Metadata *SnapshotMetadata
	Manifest *manifest.Manifest
}

// Stored describes a write-back.
type Stored struct {
	RepoKey     string
	SnapshotKey string
	Dir         string
	Created     bool // false when a snapshot with the same key already existed
}

// Cache is a handle on the machine-wide snapshot cache.
type Cache struct {
	root    string
	git     git.Operations
	version string
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a cache rooted at root. An empty root yields a cache on which
// every lookup misses with cache_root_unavailable.
func New(root string, ops git.Operations, version string, log zerolog.Logger) *Cache {
	if ops == nil {
		ops = git.NewOperations()
	}
	return &Cache{
		root:    root,
		git:     ops,
		version: version,
		log:     log,
		now:     time.Now,
	}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

func (c *Cache) repoDir(ctx context.Context, root string) (string, Identity, bool) {
	id := RepoIdentity(ctx, c.git, root)
	if c.root == "" {
		return "", id, false
	}
	dir := filepath.Join(c.root, id.RepoKey)
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.log.Warn().Err(err).Str("dir", dir).Msg("reuse cache root unavailable")
		return "", id, false
	}
	return dir, id, true
}

// Resolve looks up a snapshot for ws under mode. A nil candidate comes with
// a miss, fallback or off outcome. The error is reserved for cancellation.
func (c *Cache) Resolve(ctx context.Context, mode Mode, ws Workspace) (*Candidate, Outcome, error) {
	if mode == ModeOff {
		return nil, off(), nil
	}

	repoDir, id, ok := c.repoDir(ctx, ws.Root)
	if !ok {
		return nil, miss(mode, id.RepoKey, ReasonCacheRootUnavailable), nil
	}
	profileHash := ws.Profile.Hash()

	var (
		dir  string
		meta *SnapshotMetadata
	)
	switch mode {
	case ModeStrict:
		key, err := c.currentKey(ctx, ws)
		if err != nil {
			return nil, Outcome{}, err
		}
		dir = filepath.Join(repoDir, key)
		if !fsutil.DirExists(dir) {
			return nil, miss(mode, id.RepoKey, ReasonStrictSnapshotMissing), nil
		}
		meta, err = readMetadata(dir)
		if err != nil {
			return nil, fallback(mode, id.RepoKey, key, dir, ReasonSnapshotMetadataCorrupt), nil
		}
		if !meta.Compatible(profileHash) {
			return nil, miss(mode, id.RepoKey, ReasonSnapshotIncompatible), nil
		}

	case ModeAuto:
		entries := c.candidates(repoDir, profileHash)
		if len(entries) == 0 {
			return nil, miss(mode, id.RepoKey, ReasonAutoSnapshotMissing), nil
		}
		best, err := c.pick(ctx, ws, entries)
		if err != nil {
			return nil, Outcome{}, err
		}
		dir, meta = best.dir, best.meta

	default:
		return nil, Outcome{}, fmt.Errorf("unknown reuse mode %q", mode)
	}

	m, ok := Restorable(dir, meta)
	if !ok {
		return nil, fallback(mode, id.RepoKey, meta.SnapshotKey, dir, ReasonSnapshotCorrupt), nil
	}

	c.log.Debug().
		Str("mode", string(mode)).
		Str("snapshot", meta.SnapshotKey).
		Int("files", m.Len()).
		Msg("reuse snapshot selected")

	return &Candidate{Dir: dir, Metadata: meta, Manifest: m}, Outcome{
		Mode:        mode,
		Decision:    DecisionHit,
		Source:      dir,
		RepoKey:     id.RepoKey,
		SnapshotKey: meta.SnapshotKey,
	}, nil
}

func (c *Cache) currentKey(ctx context.Context, ws Workspace) (string, error) {
	if head := c.git.HeadCommit(ctx, ws.Root); head != "" {
		return head, nil
	}
	fp, err := ComputeFingerprint(ctx, ws.Root, ws.Entries)
	if err != nil {
		return "", err
	}
	return SnapshotKey("", fp), nil
}

type entry struct {
	dir  string
	meta *SnapshotMetadata
}

// candidates lists compatible snapshots, newest first, capped.
func (c *Cache) candidates(repoDir, profileHash string) []entry {
	dirents, err := os.ReadDir(repoDir)
	if err != nil {
		return nil
	}
	var out []entry
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(repoDir, d.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			c.log.Debug().Err(err).Str("dir", dir).Msg("skipping unreadable snapshot")
			continue
		}
		if !meta.Compatible(profileHash) {
			continue
		}
		out = append(out, entry{dir: dir, meta: meta})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].meta, out[j].meta
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.SnapshotKey < b.SnapshotKey
	})
	if len(out) > maxAutoCandidates {
		out = out[:maxAutoCandidates]
	}
	return out
}

// pick chooses the best candidate: an exact manifest match when the local
// root hash is known, otherwise the highest similarity score. Ties go to
// the newer snapshot, then the smaller key; the input order already encodes
// both, so the first maximum wins.
func (c *Cache) pick(ctx context.Context, ws Workspace, entries []entry) (entry, error) {
	if ws.RootHash != "" {
		for _, e := range entries {
			if e.meta.ManifestRootHash == ws.RootHash {
				return e, nil
			}
		}
	}

	current, err := ComputeFingerprint(ctx, ws.Root, ws.Entries)
	if err != nil {
		return entry{}, err
	}
	best, bestScore := entries[0], Score(entries[0].meta.Fingerprint, current)
	for _, e := range entries[1:] {
		if s := Score(e.meta.Fingerprint, current); s > bestScore {
			best, bestScore = e, s
		}
	}
	c.log.Debug().Int64("score", bestScore).Str("snapshot", best.meta.SnapshotKey).Msg("auto reuse scored")
	return best, nil
}

// Store publishes generationDir as a snapshot of ws. Write-back is additive:
// an existing snapshot with the same key is left untouched.
func (c *Cache) Store(ctx context.Context, ws Workspace, generationDir string, m *manifest.Manifest) (*Stored, error) {
	repoDir, id, ok := c.repoDir(ctx, ws.Root)
	if !ok {
		return nil, nil
	}

	fp, err := ComputeFingerprint(ctx, ws.Root, ws.Entries)
	if err != nil {
		return nil, err
	}
	head := c.git.HeadCommit(ctx, ws.Root)
	key := SnapshotKey(head, fp)
	final := filepath.Join(repoDir, key)
	out := &Stored{RepoKey: id.RepoKey, SnapshotKey: key, Dir: final}
	if fsutil.DirExists(final) {
		return out, nil
	}

	staging := filepath.Join(repoDir, ".tmp-"+strconv.Itoa(os.Getpid())+"-"+strconv.FormatInt(c.now().UnixNano(), 36))
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot staging: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	for _, sub := range []func(string) string{workspace.IndexDir, workspace.SymbolsDir, workspace.ManifestDir} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fsutil.CopyDir(sub(generationDir), sub(staging)); err != nil {
			return nil, fmt.Errorf("failed to copy generation into snapshot: %w", err)
		}
	}

	now := c.now().UTC()
	meta := &SnapshotMetadata{
		SchemaVersion:    CacheSchemaVersion,
		RepoKey:          id.RepoKey,
		SnapshotKey:      key,
		CreatedAt:        now,
		UpdatedAt:        now,
		ToolVersion:      c.version,
		IndexSchema:      storage.SchemaVersion,
		ProfileHash:      ws.Profile.Hash(),
		HeadCommit:       head,
		ManifestRootHash: m.RootHash,
		Fingerprint:      fp,
	}
	if err := writeMetadata(staging, meta); err != nil {
		return nil, fmt.Errorf("failed to write snapshot metadata: %w", err)
	}

	if fsutil.DirExists(final) {
		return out, nil
	}
	if err := os.Rename(staging, final); err != nil {
		if fsutil.DirExists(final) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	committed = true
	out.Created = true
	c.log.Info().Str("snapshot", key).Str("repo", id.RepoKey).Msg("snapshot stored")
	return out, nil
}
