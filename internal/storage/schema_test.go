package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStamp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gen", "SCHEMA")
	_, err := ReadSchema(path)
	assert.ErrorIs(t, err, ErrSchemaUnknown)

	require.NoError(t, WriteSchema(path))
	got, err := ReadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got)

	require.NoError(t, os.WriteFile(path, []byte("bleve-v1\n"), 0644))
	got, err = ReadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, "bleve-v1", got)
}
