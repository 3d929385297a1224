package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/hclconfig"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/testutil"
)

// fixture is a complete local deployment: a songs source database, a fake
// API, and state, data and serving locations in a temp dir.
type fixture struct {
	cfg  *Config
	api  *testutil.MusicAPI
	logs *testutil.SafeBuffer
}

func newFixture(t *testing.T, songs ...testutil.Song) *fixture {
	t.Helper()
	dir := t.TempDir()
	api := testutil.NewMusicAPI(t)
	cfg, err := NewConfig(Config{
		StateDBPath:    filepath.Join(dir, "state.db"),
		DataRoot:       filepath.Join(dir, "data"),
		SourceDB:       testutil.SongsSource(t, songs...),
		ServingDB:      filepath.Join(dir, "serving.db"),
		APIBaseURL:     api.URL,
		StartPartition: "2024-01-01",
		ListenAddr:     "127.0.0.1:0",
		LogFormat:      "text",
		LogLevel:       "debug",
	})
	require.NoError(t, err)
	return &fixture{cfg: cfg, api: api, logs: &testutil.SafeBuffer{}}
}

func (f *fixture) newApp(t *testing.T) *App {
	t.Helper()
	a, err := NewApp(f.logs, f.cfg, hclconfig.NewLoader(f.cfg.Vars(time.Now())))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close(context.Background())
		if os.Getenv("MEDALLION_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), f.logs.String())
		}
	})
	return a
}

func (f *fixture) servingCount(t *testing.T, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", f.cfg.ServingDB)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

var januarySongs = []testutil.Song{
	{ID: "s1", Title: "Intro", Artist: "A", ReleaseYear: 2001, UpdatedAt: "2024-01-01 08:00:00"},
	{ID: "s2", Title: "Blue", Artist: "B", ReleaseYear: 1999, UpdatedAt: "2024-01-01 21:30:00"},
	{ID: "s3", Title: "Late", Artist: "C", ReleaseYear: 2010, UpdatedAt: "2024-01-02 00:00:01"},
}

func TestNewConfig(t *testing.T) {
	valid := Config{StateDBPath: "state.db", DataRoot: "data"}

	cfg, err := NewConfig(valid)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)

	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"missing state db", func(c *Config) { c.StateDBPath = "" }, "StateDBPath"},
		{"missing data root", func(c *Config) { c.DataRoot = "" }, "DataRoot"},
		{"negative parallelism", func(c *Config) { c.MaxParallel = -1 }, "MaxParallel"},
		{"negative pool", func(c *Config) { c.PoolCapacity = -1 }, "PoolCapacity"},
		{"negative interval", func(c *Config) { c.ScheduleInterval = -time.Second }, "ScheduleInterval"},
		{"bad start partition", func(c *Config) { c.StartPartition = "01/01/2024" }, "StartPartition"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LogFormat"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			_, err := NewConfig(c)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestConfigVars_DefaultStartPartitionIsYesterday(t *testing.T) {
	cfg := &Config{}
	vars := cfg.Vars(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-02-29", vars["start_partition"])
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	t.Run("embedded definitions", func(t *testing.T) {
		compiled, err := Validate(f.logs, f.cfg, hclconfig.NewLoader(f.cfg.Vars(time.Now())))
		require.NoError(t, err)
		var names []string
		for _, p := range compiled {
			names = append(names, p.Name)
		}
		assert.ElementsMatch(t, []string{"songs", "purchases"}, names)
	})

	t.Run("cyclic definition is rejected", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.hcl"), []byte(`
pipeline "loop" {
  sources = ["rds"]
  task "a" {
    kind      = "transform"
    operation = "songs_transform"
    upstream  = ["b"]
  }
  task "b" {
    kind      = "transform"
    operation = "songs_transform"
    upstream  = ["a"]
  }
}
`), 0o600))
		cfg := *f.cfg
		cfg.DefinitionsPath = dir
		_, err := Validate(f.logs, &cfg, hclconfig.NewLoader(nil))
		var def *failure.DefinitionError
		require.ErrorAs(t, err, &def)
		assert.Equal(t, "loop", def.Pipeline)
	})

	t.Run("syntax error is a definition error", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.hcl"), []byte(`pipeline "x" {`), 0o600))
		cfg := *f.cfg
		cfg.DefinitionsPath = dir
		_, err := Validate(f.logs, &cfg, hclconfig.NewLoader(nil))
		var def *failure.DefinitionError
		require.ErrorAs(t, err, &def)
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("empty directory", func(t *testing.T) {
		cfg := *f.cfg
		cfg.DefinitionsPath = t.TempDir()
		_, err := Validate(f.logs, &cfg, hclconfig.NewLoader(nil))
		assert.ErrorContains(t, err, "no pipeline definitions found")
	})
}

func TestTrigger_SongsDayCommits(t *testing.T) {
	f := newFixture(t, januarySongs...)
	a := f.newApp(t)
	ctx := context.Background()

	ticket, run, err := a.Trigger(ctx, "songs", "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeStarted, ticket.Outcome)
	require.NotNil(t, run)
	require.Equal(t, model.RunSucceeded, run.State, run.Error)

	quality := run.Task("quality_songs")
	require.NotNil(t, quality)
	require.NotNil(t, quality.QualityScore)
	assert.Equal(t, 1.0, *quality.QualityScore)
	assert.Equal(t, 2, f.servingCount(t, "dim_songs"), "only the 2024-01-01 rows are loaded")

	marks, err := a.Coordinator().Watermarks(ctx)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, "rds", marks[0].Source)
	assert.Equal(t, "2024-01-01", marks[0].Partition.String())

	t.Run("re-trigger is a no-op", func(t *testing.T) {
		again, prev, err := a.Trigger(ctx, "songs", "2024-01-01", false)
		require.NoError(t, err)
		assert.Equal(t, coordinator.OutcomeCommitted, again.Outcome)
		require.NotNil(t, prev)
		assert.Equal(t, run.ID, prev.ID)
	})

	t.Run("forced re-run does not duplicate rows", func(t *testing.T) {
		forced, rerun, err := a.Trigger(ctx, "songs", "2024-01-01", true)
		require.NoError(t, err)
		assert.Equal(t, coordinator.OutcomeStarted, forced.Outcome)
		require.Equal(t, model.RunSucceeded, rerun.State, rerun.Error)
		assert.Equal(t, 2, f.servingCount(t, "dim_songs"))
	})

	t.Run("default partition follows the watermark", func(t *testing.T) {
		next, run, err := a.Trigger(ctx, "songs", "", false)
		require.NoError(t, err)
		assert.Equal(t, "2024-01-02", next.Partition.String())
		require.Equal(t, model.RunSucceeded, run.State, run.Error)
		assert.Equal(t, 3, f.servingCount(t, "dim_songs"))
	})
}

func TestTrigger_EmptyDayFailsQualityAndKeepsArtifacts(t *testing.T) {
	f := newFixture(t, januarySongs...)
	a := f.newApp(t)

	_, run, err := a.Trigger(context.Background(), "songs", "2024-01-05", false)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.State)
	assert.Equal(t, model.TaskQualityFailed, run.Task("quality_songs").State)
	assert.Equal(t, model.TaskSkipped, run.Task("model_songs").State)

	transformed := filepath.Join(f.cfg.DataRoot, "transformed", "songs", "transform_songs", "2024-01-05")
	assert.DirExists(t, transformed, "upstream artifacts stay for inspection")

	marks, err := a.Coordinator().Watermarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestTrigger_PurchasesFromAPI(t *testing.T) {
	f := newFixture(t)
	f.api.Day("2024-01-01",
		[]map[string]any{{"user_id": "u1", "country": "US"}, {"user_id": "u2", "country": "DE"}},
		[]map[string]any{
			{"session_id": "x1", "user_id": "u1", "song_id": "s1", "price": 0.99},
			{"session_id": "x2", "user_id": "u2", "song_id": "s2", "price": 1.29},
			{"session_id": "x3", "user_id": "u2", "song_id": "s1", "price": 0.99},
		})
	a := f.newApp(t)

	_, run, err := a.Trigger(context.Background(), "purchases", "2024-01-01", false)
	require.NoError(t, err)
	require.Equal(t, model.RunSucceeded, run.State, run.Error)
	assert.Equal(t, 3, f.servingCount(t, "fact_sessions"), "only session rows are loaded")

	marks, err := a.Coordinator().Watermarks(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 2, "both sources advance together")
	for _, m := range marks {
		assert.Equal(t, "2024-01-01", m.Partition.String())
	}
}

func TestTrigger_APIOutageFailsRun(t *testing.T) {
	f := newFixture(t)
	f.api.FailWith(http.StatusBadRequest)
	a := f.newApp(t)

	_, run, err := a.Trigger(context.Background(), "purchases", "2024-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.State)
	assert.Equal(t, model.TaskFailed, run.Task("extract_users").State)
	assert.Equal(t, failure.ClassPermanent, run.Task("extract_users").ErrorClass)
	assert.Equal(t, model.TaskSkipped, run.Task("model_purchases").State)
}

func TestTrigger_Rejections(t *testing.T) {
	a := newFixture(t).newApp(t)

	_, _, err := a.Trigger(context.Background(), "songs", "not-a-day", false)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = a.Trigger(context.Background(), "nope", "", false)
	assert.ErrorIs(t, err, coordinator.ErrUnknownPipeline)

	_, err = a.Resolve(context.Background(), "r1", "t1", "skipped")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestServe(t *testing.T) {
	f := newFixture(t, januarySongs...)
	a, err := NewApp(f.logs, f.cfg, hclconfig.NewLoader(f.cfg.Vars(time.Now())))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/runs", "application/json", strings.NewReader(`{"pipeline":"songs","partition":"2024-01-01"}`))
	require.NoError(t, err)
	var ticket coordinator.Ticket
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ticket))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/runs/" + ticket.RunID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var run model.Run
		if json.NewDecoder(resp.Body).Decode(&run) != nil {
			return false
		}
		return run.State == model.RunSucceeded
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.Contains(t, f.logs.String(), "API server starting")

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "server is closed")
}

func TestServe_ListenFailure(t *testing.T) {
	f := newFixture(t)
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	f.cfg.ListenAddr = taken.Addr().String()
	a := f.newApp(t)
	_, err = a.Listen()
	require.Error(t, err)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}
