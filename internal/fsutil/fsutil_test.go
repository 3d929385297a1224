package fsutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b.hcl", "a/c.hcl", "a/notes.txt", ".staging/d.hcl"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, nil, 0o644))
	}

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a", "c.hcl"), filepath.Join(root, "b.hcl")}, files)
}

func writeDataset(t *testing.T, dir string, recs ...Record) int64 {
	t.Helper()
	w, err := CreateDataset(dir)
	require.NoError(t, err)
	defer w.Abort()
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	n, err := w.Commit()
	require.NoError(t, err)
	return n
}

func readAll(t *testing.T, dir string) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, ReadDataset(context.Background(), dir, func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestDataset_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "landing", "songs", "extract", "2024-01-01")

	n := writeDataset(t, dir, Record{"id": 1, "title": "a"}, Record{"id": 2, "title": nil})
	assert.Equal(t, int64(2), n)

	got := readAll(t, dir)
	require.Len(t, got, 2)
	assert.Equal(t, json.Number("1"), got[0]["id"])
	assert.Nil(t, got[1]["title"])
}

func TestDataset_RewriteReplaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	writeDataset(t, dir, Record{"n": 1}, Record{"n": 2}, Record{"n": 3})
	writeDataset(t, dir, Record{"n": 9})

	got := readAll(t, dir)
	require.Len(t, got, 1, "a second write must not append to the first")
	assert.Equal(t, json.Number("9"), got[0]["n"])

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging directories are left behind")
}

func TestDataset_AbortLeavesPreviousVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	writeDataset(t, dir, Record{"n": 1})

	w, err := CreateDataset(dir)
	require.NoError(t, err)
	require.NoError(t, w.Write(Record{"n": 2}))
	w.Abort()

	got := readAll(t, dir)
	require.Len(t, got, 1)
	assert.Equal(t, json.Number("1"), got[0]["n"])
}

func TestReadDataset_Errors(t *testing.T) {
	root := t.TempDir()

	err := ReadDataset(context.Background(), filepath.Join(root, "missing"), func(Record) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "part-00000.jsonl"), []byte("{\"a\":1}\nnot json\n"), 0o644))
	err = ReadDataset(context.Background(), bad, func(Record) error { return nil })
	assert.ErrorContains(t, err, "record 2")
}
