package reuse

import (
	"context"
	"path/filepath"

	"github.com/mvp-joe/cortex-index/internal/git"
	"github.com/mvp-joe/cortex-index/internal/manifest"
)

const repoKeyLen = 24

// Identity names a repository independent of where it is checked out when
// an origin remote exists.
type Identity struct {
	RepoKey string
	Name    string
	Origin  string // normalized; "" when the workspace has no origin
}

// RepoIdentity derives the cache identity of the workspace at root.
func RepoIdentity(ctx context.Context, ops git.Operations, root string) Identity {
	canonical := canonicalPath(root)
	origin := ops.RemoteURL(ctx, canonical)

	var id Identity
	var source string
	if origin != "" {
		id.Origin = git.NormalizeRemoteURL(origin)
		id.Name = git.RepoName(id.Origin)
		source = "origin:" + id.Origin + "|repo:" + id.Name
	} else {
		id.Name = git.RepoName(canonical)
		source = "fallback:" + canonical + "|repo:" + id.Name
	}
	id.RepoKey = manifest.HashBytes([]byte(source))[:repoKeyLen]
	return id
}

// SnapshotKey is the HEAD commit when there is one, otherwise a content key
// derived from the fingerprint digest.
func SnapshotKey(head string, fp Fingerprint) string {
	if head != "" {
		return head
	}
	d := fp.Digest
	if len(d) > 16 {
		d = d[:16]
	}
	return "snapshot-" + d
}

func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
