package git

import "context"

// MockGitOps is a mock implementation of Operations for testing.
type MockGitOps struct {
	Remote string
	Root   string
	Head   string
}

// NewMockGitOps creates a mock with sensible defaults.
func NewMockGitOps() *MockGitOps {
	return &MockGitOps{
		Remote: "https://github.com/user/repo.git",
		Root:   "/tmp/test-repo",
		Head:   "0123456789abcdef0123456789abcdef01234567",
	}
}

func (m *MockGitOps) RemoteURL(ctx context.Context, projectPath string) string {
	return m.Remote
}

func (m *MockGitOps) WorktreeRoot(ctx context.Context, projectPath string) string {
	if m.Root == "" {
		return projectPath
	}
	return m.Root
}

func (m *MockGitOps) HeadCommit(ctx context.Context, projectPath string) string {
	return m.Head
}
