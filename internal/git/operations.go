// Package git answers the few repository questions snapshot reuse needs.
package git

import (
	"context"
	"os/exec"
	"strings"
)

// Operations defines the interface for git operations.
// This allows mocking git commands in tests.
type Operations interface {
	// RemoteURL returns the origin remote URL, or "" when none is configured.
	RemoteURL(ctx context.Context, projectPath string) string

	// WorktreeRoot returns the git worktree root path.
	// Falls back to projectPath if not a git repository.
	WorktreeRoot(ctx context.Context, projectPath string) string

	// HeadCommit returns the full HEAD commit hash, or "" outside a repository
	// or before the first commit.
	HeadCommit(ctx context.Context, projectPath string) string
}

// gitOps is the real implementation using exec.CommandContext.
type gitOps struct{}

// NewOperations returns the default git operations implementation.
func NewOperations() Operations {
	return &gitOps{}
}

func (g *gitOps) RemoteURL(ctx context.Context, projectPath string) string {
	return output(ctx, projectPath, "config", "--get", "remote.origin.url")
}

func (g *gitOps) WorktreeRoot(ctx context.Context, projectPath string) string {
	if root := output(ctx, projectPath, "rev-parse", "--show-toplevel"); root != "" {
		return root
	}
	return projectPath
}

func (g *gitOps) HeadCommit(ctx context.Context, projectPath string) string {
	return output(ctx, projectPath, "rev-parse", "--verify", "-q", "HEAD")
}

func output(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// NormalizeRemoteURL lower-cases a remote URL, rewrites scp-style SSH
// remotes to ssh:// form and strips a trailing .git, so the same repository
// cloned over different transports of one host maps to one value.
//
//   - git@github.com:User/Repo.git -> ssh://github.com/user/repo
//   - https://github.com/user/repo.git -> https://github.com/user/repo
func NormalizeRemoteURL(remote string) string {
	v := strings.ToLower(strings.TrimSpace(remote))
	if rest, ok := strings.CutPrefix(v, "git@"); ok {
		if host, p, found := strings.Cut(rest, ":"); found {
			v = "ssh://" + strings.TrimSpace(host) + "/" + strings.TrimSpace(p)
		}
	}
	v = strings.TrimSuffix(v, "/")
	return strings.TrimSuffix(v, ".git")
}

// RepoName derives a short lower-case name from the last path element of a
// remote URL or directory, collapsing other characters to single dashes.
func RepoName(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/\\")
	if i := strings.LastIndexAny(s, "/\\:"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".git")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "repo"
	}
	return name
}
