package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/inmemorystore"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/testutil"
	"github.com/vk/medallion/internal/watermark"
)

func TestNew_RejectsDuplicatePipelines(t *testing.T) {
	_, err := New([]*model.Pipeline{songsPipeline(), songsPipeline()}, nil, inmemorystore.New(), inmemorystore.New(), Options{})
	assert.ErrorContains(t, err, `pipeline "songs" registered twice`)
}

func TestTrigger_UnknownPipeline(t *testing.T) {
	e := newEnv(t, songsPipeline())
	_, err := e.coord.Trigger(context.Background(), Request{Pipeline: "nope"})
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestTrigger_DefaultPartitionFollowsWatermark(t *testing.T) {
	e := newEnv(t, songsPipeline())
	passSongs(e.fakes)

	first := e.trigger(t, "songs", "", false)
	assert.Equal(t, "2024-01-01", first.Partition.String(), "start_partition when nothing is committed")
	require.Equal(t, model.RunSucceeded, e.wait(t, first.RunID).State)

	second := e.trigger(t, "songs", "", false)
	assert.Equal(t, "2024-01-02", second.Partition.String())
	require.Equal(t, model.RunSucceeded, e.wait(t, second.RunID).State)
	assert.Equal(t, "2024-01-02", e.watermark(t, "songs", "rds"))
}

func TestTrigger_DefaultPartitionUsesLeastAdvancedSource(t *testing.T) {
	e := newEnv(t, apiPipeline())
	ctx := context.Background()
	require.NoError(t, e.store.Advance(ctx, "api", "seed", []watermark.Update{
		{Source: "users", Next: partition.MustParse("2024-01-05")},
		{Source: "sessions", Next: partition.MustParse("2024-01-03")},
	}))

	key, err := e.coord.NextPartition(ctx, apiPipeline())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-04", key.String())
}

func TestTrigger_Idempotence(t *testing.T) {
	e := newEnv(t, songsPipeline())
	passSongs(e.fakes)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	e.fakes.On("extract_songs", testutil.Block(started, release))

	first := e.trigger(t, "songs", "2024-01-01", false)
	<-started

	t.Run("same partition while in flight is a no-op", func(t *testing.T) {
		again := e.trigger(t, "songs", "2024-01-01", false)
		assert.Equal(t, OutcomeInFlight, again.Outcome)
		assert.Equal(t, first.RunID, again.RunID)
	})

	t.Run("forced trigger while in flight conflicts", func(t *testing.T) {
		_, err := e.coord.Trigger(context.Background(), Request{Pipeline: "songs", Partition: partition.MustParse("2024-01-01"), Force: true})
		var conflict *failure.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, first.RunID, conflict.RunID)
	})

	t.Run("overlapping range conflicts", func(t *testing.T) {
		_, err := e.coord.Trigger(context.Background(), Request{Pipeline: "songs", Partition: partition.MustParse("2023-12-30..2024-01-02")})
		var conflict *failure.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
	})

	close(release)
	require.Equal(t, model.RunSucceeded, e.wait(t, first.RunID).State)

	t.Run("committed partition is a no-op unless forced", func(t *testing.T) {
		again := e.trigger(t, "songs", "2024-01-01", false)
		assert.Equal(t, OutcomeCommitted, again.Outcome)
		assert.Equal(t, first.RunID, again.RunID)

		runs, err := e.coord.List(context.Background(), runstore.Filter{Pipeline: "songs"})
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})
}

func TestWatermark_OnlyOnSuccessAndNeverBackwards(t *testing.T) {
	e := newEnv(t, songsPipeline())
	passSongs(e.fakes)

	later := e.trigger(t, "songs", "2024-01-05", false)
	require.Equal(t, model.RunSucceeded, e.wait(t, later.RunID).State)
	assert.Equal(t, "2024-01-05", e.watermark(t, "songs", "rds"))

	// A plain re-trigger of an older day is already covered.
	covered := e.trigger(t, "songs", "2024-01-02", false)
	assert.Equal(t, OutcomeCommitted, covered.Outcome)
	assert.Empty(t, covered.RunID)

	// A forced backfill runs but leaves the watermark where it was.
	backfill := e.trigger(t, "songs", "2024-01-02", true)
	require.Equal(t, model.RunSucceeded, e.wait(t, backfill.RunID).State)
	assert.Equal(t, "2024-01-05", e.watermark(t, "songs", "rds"))

	// A failed run never moves it.
	e.fakes.On("transform_songs", testutil.Fail(failure.Permanentf("schema mismatch")))
	failed := e.trigger(t, "songs", "2024-01-06", false)
	require.Equal(t, model.RunFailed, e.wait(t, failed.RunID).State)
	assert.Equal(t, "2024-01-05", e.watermark(t, "songs", "rds"))

	marks, err := e.coord.Watermarks(context.Background())
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, later.RunID, marks[0].RunID)
}

func TestCancel(t *testing.T) {
	e := newEnv(t, songsPipeline())
	started := make(chan struct{}, 1)
	e.fakes.On("extract_songs", testutil.Block(started, nil))

	ticket := e.trigger(t, "songs", "2024-01-01", false)
	<-started
	require.NoError(t, e.coord.Cancel(context.Background(), ticket.RunID))

	run := e.wait(t, ticket.RunID)
	assert.Equal(t, model.RunCancelled, run.State)
	assert.Equal(t, model.TaskFailed, run.Task("extract_songs").State)
	assert.Equal(t, model.TaskSkipped, run.Task("model_songs").State)
	assert.Empty(t, e.watermark(t, "songs", "rds"))

	err := e.coord.Cancel(context.Background(), ticket.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)

	// A cancelled run releases its partition.
	passSongs(e.fakes)
	e.fakes.On("extract_songs", testutil.Rows(1))
	retry := e.trigger(t, "songs", "2024-01-01", false)
	assert.Equal(t, OutcomeStarted, retry.Outcome)
	assert.Equal(t, model.RunSucceeded, e.wait(t, retry.RunID).State)
}

// interrupted stores a run as a crashed process would have left it.
func interrupted(t *testing.T, store *inmemorystore.Store, p *model.Pipeline, id string, states map[string]model.TaskState) {
	t.Helper()
	run := model.NewRun(id, p, partition.MustParse("2024-01-01"), false, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	run.State = model.RunRunning
	for taskID, st := range states {
		ti := run.Task(taskID)
		ti.State = st
		ti.Attempts = 1
	}
	require.NoError(t, store.CreateRun(context.Background(), run))
}

func TestResume(t *testing.T) {
	store := inmemorystore.New()
	interrupted(t, store, songsPipeline(), "crashed", map[string]model.TaskState{
		"extract_songs":   model.TaskSucceeded,
		"transform_songs": model.TaskRunning,
	})
	e := newEnvWithStore(t, store, songsPipeline())
	passSongs(e.fakes)

	resumed, err := e.coord.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"crashed"}, resumed)

	run := e.wait(t, "crashed")
	assert.Equal(t, model.RunSucceeded, run.State)
	assert.Zero(t, e.fakes.Calls("extract_songs"), "succeeded tasks are never re-run")
	assert.Equal(t, 1, e.fakes.Calls("transform_songs"))
	assert.Equal(t, "2024-01-01", e.watermark(t, "songs", "rds"))
}

func TestResolve(t *testing.T) {
	p := songsPipeline()
	p.Tasks[3].Idempotency = model.MustNotDuplicate

	store := inmemorystore.New()
	interrupted(t, store, p, "crashed", map[string]model.TaskState{
		"extract_songs":   model.TaskSucceeded,
		"transform_songs": model.TaskSucceeded,
		"quality_songs":   model.TaskSucceeded,
		"model_songs":     model.TaskRunning,
	})
	e := newEnvWithStore(t, store, p)

	_, err := e.coord.Resume(context.Background())
	require.NoError(t, err)
	run := e.wait(t, "crashed")
	assert.Equal(t, model.RunRunning, run.State, "an attempt with unknown outcome blocks the run")
	assert.Zero(t, e.fakes.Calls("model_songs"))

	// A non-forced trigger for the same day sees the run still in flight.
	again := e.trigger(t, "songs", "2024-01-01", false)
	assert.Equal(t, OutcomeInFlight, again.Outcome)

	ctx := context.Background()
	assert.Error(t, e.coord.Resolve(ctx, "crashed", "model_songs", model.TaskSkipped))
	assert.Error(t, e.coord.Resolve(ctx, "crashed", "extract_songs", model.TaskSucceeded), "only running tasks can be resolved")

	require.NoError(t, e.coord.Resolve(ctx, "crashed", "model_songs", model.TaskSucceeded))
	run = e.wait(t, "crashed")
	assert.Equal(t, model.RunSucceeded, run.State)
	assert.Zero(t, e.fakes.Calls("model_songs"))
	assert.Equal(t, "2024-01-01", e.watermark(t, "songs", "rds"))
}

func TestTickAll(t *testing.T) {
	e := newEnv(t, songsPipeline(), apiPipeline())
	e.now = time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
	passSongs(e.fakes)
	passAPI(e.fakes)

	tickets, err := e.coord.TickAll(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, OutcomeStarted, tk.Outcome, tk.Pipeline)
		assert.Equal(t, "2024-01-01", tk.Partition.String())
		assert.Equal(t, model.RunSucceeded, e.wait(t, tk.RunID).State)
	}

	// 2024-01-02 has not ended yet.
	tickets, err = e.coord.TickAll(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "api", tickets[0].Pipeline)
	for _, tk := range tickets {
		assert.Equal(t, OutcomeNotDue, tk.Outcome)
		assert.Empty(t, tk.RunID)
	}
}
