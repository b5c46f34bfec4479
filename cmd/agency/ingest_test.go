package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nstogner/agency/pkg/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest(t *testing.T) {
	st, err := sqlite.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# Batteries\nLFP cells"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("solar notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("  \n"), 0o644))

	n, err := ingest(ctx, st, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-ingesting replaces rather than duplicates.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# Batteries\nsodium-ion cells"), 0o644))
	n, err = ingest(ctx, st, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	found, err := st.SearchDocuments(ctx, "sodium", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a.md", found[0].Title)

	_, err = ingest(ctx, st, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
