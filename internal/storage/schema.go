package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
)

// ErrSchemaUnknown is returned by ReadSchema when no stamp was written.
var ErrSchemaUnknown = errors.New("engine schema not recorded")

// WriteSchema stamps path with SchemaVersion.
func WriteSchema(path string) error {
	if err := fsutil.WriteFileAtomic(path, []byte(SchemaVersion+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write schema stamp: %w", err)
	}
	return nil
}

// ReadSchema returns the schema a generation's engines were written with.
func ReadSchema(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrSchemaUnknown
		}
		return "", fmt.Errorf("failed to read schema stamp: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
