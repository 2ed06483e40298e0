package reuse

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/walker"
)

const (
	fingerprintSamples = 32
	samplePrefixBytes  = 16 * 1024
)

// Fingerprint summarizes a file set by hashing the prefixes of evenly spaced
// sample paths. Two trees with mostly equal samples are likely close enough
// that restoring one as a starting point for the other saves work.
type Fingerprint struct {
	Digest       string   `json:"digest"`
	FileCount    int      `json:"file_count"`
	SamplePaths  []string `json:"sample_paths"`
	SampleHashes []string `json:"sample_hashes"`
}

// sampleIndices picks up to n indices evenly spread over [0, length).
func sampleIndices(length, n int) []int {
	if length <= 0 {
		return nil
	}
	if length <= n || n <= 1 {
		out := make([]int, length)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		mapped := i * (length - 1) / (n - 1)
		if len(out) == 0 || out[len(out)-1] != mapped {
			out = append(out, mapped)
		}
	}
	return out
}

// ComputeFingerprint samples the walked entries of root. Unreadable samples
// are skipped.
func ComputeFingerprint(ctx context.Context, root string, entries []walker.Entry) (Fingerprint, error) {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	sort.Strings(paths)

	fp := Fingerprint{FileCount: len(paths)}
	h := blake3.New(32, nil)
	for _, idx := range sampleIndices(len(paths), fingerprintSamples) {
		if err := ctx.Err(); err != nil {
			return Fingerprint{}, err
		}
		rel := paths[idx]
		sum, err := manifest.HashPrefix(filepath.Join(root, filepath.FromSlash(rel)), samplePrefixBytes)
		if err != nil {
			continue
		}
		fp.SamplePaths = append(fp.SamplePaths, rel)
		fp.SampleHashes = append(fp.SampleHashes, sum)
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write([]byte(sum))
		h.Write([]byte{0})
	}
	fp.Digest = hex.EncodeToString(h.Sum(nil))
	return fp, nil
}

// Score rates how similar a snapshot fingerprint is to the current one.
// Matching sample hashes weigh twice as much as matching sample paths, and
// a difference in file count is penalized proportionally.
func Score(snapshot, current Fingerprint) int64 {
	snap := pairs(snapshot)
	cur := pairs(current)

	var pathOverlap, hashOverlap int64
	for p, h := range snap {
		if ch, ok := cur[p]; ok {
			pathOverlap++
			if ch == h {
				hashOverlap++
			}
		}
	}

	samples := int64(max(len(snap), len(cur), 1))
	files := int64(max(snapshot.FileCount, current.FileCount, 1))
	delta := int64(snapshot.FileCount - current.FileCount)
	if delta < 0 {
		delta = -delta
	}

	return hashOverlap*2000/samples + pathOverlap*1000/samples - delta*1000/files
}

func pairs(fp Fingerprint) map[string]string {
	n := min(len(fp.SamplePaths), len(fp.SampleHashes))
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		out[fp.SamplePaths[i]] = fp.SampleHashes[i]
	}
	return out
}
