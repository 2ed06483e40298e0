package manifest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"lukechampine.com/blake3"
)

const hashBufferSize = 64 * 1024

// HashFile returns the hex BLAKE3-256 digest of the file at path, streaming
// its content in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashPrefix hashes at most n leading bytes of the file at path.
func HashPrefix(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, io.LimitReader(f, n)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RootHash is an aggregate fingerprint over every record, used as an O(1)
// whole-tree equality check. Records are folded in path order.
func RootHash(files map[string]FileRecord) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := blake3.New(32, nil)
	for _, p := range paths {
		rec := files[p]
		for _, field := range []string{
			p,
			strconv.FormatInt(rec.Size, 10),
			strconv.FormatInt(rec.MTime, 10),
			rec.Hash,
			rec.Ext,
			rec.Language,
		} {
			io.WriteString(h, field)
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
