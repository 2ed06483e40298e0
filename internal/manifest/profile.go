package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
)

// ProfileFileName is the IndexProfile file inside the workspace state directory.
const ProfileFileName = "profile.json"

// IndexProfile is the set of build options used by the most recent explicit
// build. The daemon reloads it so autonomous rebuilds use the same options.
type IndexProfile struct {
	RespectIgnore bool     `json:"respect_ignore"`
	Include       []string `json:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	EmbeddingMode string   `json:"embedding_mode"`
}

// DefaultProfile matches the configuration defaults.
func DefaultProfile() IndexProfile {
	return IndexProfile{
		RespectIgnore: true,
		EmbeddingMode: "off",
	}
}

// Normalized returns a copy with sorted, de-duplicated path lists.
func (p IndexProfile) Normalized() IndexProfile {
	p.Include = normalizeList(p.Include)
	p.Exclude = normalizeList(p.Exclude)
	if p.EmbeddingMode == "" {
		p.EmbeddingMode = "off"
	}
	return p
}

// Hash is a stable digest of the normalized profile, used to decide whether
// a cached snapshot was built with compatible options.
func (p IndexProfile) Hash() string {
	data, _ := json.Marshal(p.Normalized())
	return HashBytes(data)[:32]
}

// LoadProfile reads the profile from stateDir. ok is false when none was saved.
func LoadProfile(stateDir string) (IndexProfile, bool, error) {
	var p IndexProfile
	err := fsutil.ReadJSON(filepath.Join(stateDir, ProfileFileName), &p)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(), false, nil
		}
		return DefaultProfile(), false, fmt.Errorf("failed to read index profile: %w", err)
	}
	return p.Normalized(), true, nil
}

// SaveProfile atomically persists p to stateDir.
func SaveProfile(stateDir string, p IndexProfile) error {
	if err := fsutil.WriteJSONAtomic(filepath.Join(stateDir, ProfileFileName), p.Normalized()); err != nil {
		return fmt.Errorf("failed to save index profile: %w", err)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
