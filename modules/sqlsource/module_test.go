package sqlsource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/registry"
)

func seedSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deftunes.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE songs (song_id TEXT, title TEXT, user_id TEXT, played_at TEXT)`)
	require.NoError(t, err)
	for _, row := range [][]any{
		{"s1", "Intro", "u1", "2023-12-31 23:59:00"},
		{"s2", "Blue", "u1", "2024-01-01 08:00:00"},
		{"s3", nil, "u2", "2024-01-01 21:30:00"},
		{"s4", "Late", "u3", "2024-01-02 00:00:01"},
	} {
		_, err = db.Exec(`INSERT INTO songs VALUES (?, ?, ?, ?)`, row...)
		require.NoError(t, err)
	}
	return path
}

func extract(t *testing.T, params map[string]string, key string) (collaborator.Result, string, error) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "landing", "songs", "extract_songs", key)
	res, err := Extract(context.Background(), collaborator.ExtractRequest{
		Pipeline:    "songs",
		TaskID:      "extract_songs",
		Source:      "rds",
		Partition:   partition.MustParse(key),
		Destination: dest,
		Params:      params,
	})
	return res, dest, err
}

func read(t *testing.T, dir string) []fsutil.Record {
	t.Helper()
	var out []fsutil.Record
	require.NoError(t, fsutil.ReadDataset(context.Background(), dir, func(r fsutil.Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestExtract_TableAndColumn(t *testing.T) {
	src := seedSource(t)

	res, dest, err := extract(t, map[string]string{"dsn": src, "table": "songs", "partition_column": "played_at"}, "2024-01-01")

	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	rows := read(t, dest)
	require.Len(t, rows, 2)
	assert.Equal(t, "s2", rows[0]["song_id"])
	assert.Nil(t, rows[1]["title"])
}

func TestExtract_QueryOverRange(t *testing.T) {
	src := seedSource(t)
	query := `SELECT song_id FROM songs WHERE date(played_at) BETWEEN :start AND :end ORDER BY song_id`

	res, dest, err := extract(t, map[string]string{"dsn": src, "query": query}, "2023-12-31..2024-01-02")

	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows)
	assert.Len(t, read(t, dest), 4)
}

func TestExtract_RetryRewritesDestination(t *testing.T) {
	src := seedSource(t)
	params := map[string]string{"dsn": src, "table": "songs", "partition_column": "played_at"}
	dest := filepath.Join(t.TempDir(), "landing")
	req := collaborator.ExtractRequest{Partition: partition.MustParse("2024-01-01"), Destination: dest, Params: params}

	for range 2 {
		_, err := Extract(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Len(t, read(t, dest), 2)
}

func TestExtract_Errors(t *testing.T) {
	src := seedSource(t)

	tests := []struct {
		name   string
		params map[string]string
		class  failure.Class
	}{
		{"missing dsn", map[string]string{"table": "songs", "partition_column": "played_at"}, failure.ClassPermanent},
		{"neither query nor table", map[string]string{"dsn": src}, failure.ClassPermanent},
		{"unknown table", map[string]string{"dsn": src, "table": "nope", "partition_column": "d"}, failure.ClassPermanent},
		{"unreachable database", map[string]string{"dsn": filepath.Join(t.TempDir(), "absent.db"), "table": "songs", "partition_column": "played_at"}, failure.ClassTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := extract(t, tc.params, "2024-01-01")
			require.Error(t, err)
			assert.Equal(t, tc.class, failure.Classify(err))
		})
	}
}

func TestModule_Register(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	_, ok := r.Extractor(OperationName)
	assert.True(t, ok)
}
