// Package storetest holds the behavioural suite every watermark.Store and
// runstore.Store implementation must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/watermark"
)

// Watermarks runs the watermark.Store suite against stores built by newStore.
func Watermarks(t *testing.T, newStore func(t *testing.T) watermark.Store) {
	ctx := context.Background()
	jan1 := partition.MustParse("2024-01-01")
	jan2 := partition.MustParse("2024-01-02")

	t.Run("missing watermark", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(ctx, "songs", "rds")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("advance from nothing then forward", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Advance(ctx, "songs", "run-1", []watermark.Update{{Source: "rds", Next: jan1}}))
		require.NoError(t, s.Advance(ctx, "songs", "run-2", []watermark.Update{{Source: "rds", Expected: jan1, Next: jan2}}))

		got, ok, err := s.Get(ctx, "songs", "rds")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2024-01-02", got.String())

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "run-2", list[0].RunID)
	})

	t.Run("compare-and-swap mismatch writes nothing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Advance(ctx, "purchases", "run-1", []watermark.Update{
			{Source: "users", Next: jan1},
			{Source: "sessions", Next: jan1},
		}))

		// "users" matches but "sessions" is stale, so neither may move.
		err := s.Advance(ctx, "purchases", "run-2", []watermark.Update{
			{Source: "users", Expected: jan1, Next: jan2},
			{Source: "sessions", Next: jan2},
		})
		var conflict *failure.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)

		users, _, err := s.Get(ctx, "purchases", "users")
		require.NoError(t, err)
		assert.Equal(t, "2024-01-01", users.String())
	})

	t.Run("never moves backwards", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Advance(ctx, "songs", "run-1", []watermark.Update{{Source: "rds", Next: jan2}}))
		err := s.Advance(ctx, "songs", "run-2", []watermark.Update{{Source: "rds", Expected: jan2, Next: jan1}})
		assert.ErrorContains(t, err, "would not advance")
	})

	t.Run("concurrent advances from the same base admit one winner", func(t *testing.T) {
		s := newStore(t)
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Advance(ctx, "songs", "run", []watermark.Update{{Source: "rds", Next: jan1}})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
	})
}

func newRun(id, pipeline, key string, started time.Time) *model.Run {
	p := model.NewPipeline(model.Pipeline{
		Name: pipeline,
		Tasks: []*model.TaskDefinition{
			{ID: "extract", Kind: model.KindExtract},
			{ID: "quality", Kind: model.KindQuality, Upstream: []string{"extract"}},
		},
	})
	return model.NewRun(id, p, partition.MustParse(key), false, started)
}

// Runs runs the runstore.Store suite against stores built by newStore.
func Runs(t *testing.T, newStore func(t *testing.T) runstore.Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	t.Run("round trip with task details", func(t *testing.T) {
		s := newStore(t)
		run := newRun("run-1", "songs", "2024-01-01", t0)
		require.NoError(t, s.CreateRun(ctx, run))

		ti := run.Task("quality")
		require.NoError(t, ti.Transition(model.TaskReady, t0))
		require.NoError(t, ti.Transition(model.TaskRunning, t0.Add(time.Second)))
		require.NoError(t, ti.Transition(model.TaskQualityFailed, t0.Add(2*time.Second)))
		ti.Attempts = 1
		ti.Rows = 500
		score := 0.5
		ti.QualityScore = &score
		ti.Quality = []model.RuleResult{
			{RuleID: "has_rows", Operator: model.OpGreaterThan, Measured: 500, Passed: true},
			{RuleID: "unique", Operator: model.OpUniquenessRatioAtLeast, Measured: 0.9, Threshold: 0.95},
		}
		ti.Error = "quality thresholds not met"
		ti.ErrorClass = failure.ClassQuality
		ti.Output = "/data/transformed/songs/transform/2024-01-01"
		require.NoError(t, s.SaveTask(ctx, ti))

		run.State = model.RunFailed
		run.Error = "quality failed"
		end := t0.Add(3 * time.Second)
		run.EndedAt = &end
		require.NoError(t, s.SaveRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		if diff := cmp.Diff(run, got, cmp.Comparer(func(a, b partition.Key) bool { return a.Equal(b) })); diff != "" {
			t.Errorf("run mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, runstore.ErrNotFound)
	})

	t.Run("one in-flight run per overlapping partition", func(t *testing.T) {
		s := newStore(t)
		first := newRun("run-1", "songs", "2024-01-01..2024-01-07", t0)
		require.NoError(t, s.CreateRun(ctx, first))

		err := s.CreateRun(ctx, newRun("run-2", "songs", "2024-01-03", t0))
		var conflict *failure.ConcurrencyConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "run-1", conflict.RunID)

		require.NoError(t, s.CreateRun(ctx, newRun("run-3", "purchases", "2024-01-03", t0)), "other pipelines are independent")
		require.NoError(t, s.CreateRun(ctx, newRun("run-4", "songs", "2024-01-08", t0)), "disjoint partitions are independent")

		active, err := s.ActiveRun(ctx, "songs", partition.MustParse("2024-01-05"))
		require.NoError(t, err)
		assert.Equal(t, "run-1", active.ID)

		first.State = model.RunFailed
		require.NoError(t, s.SaveRun(ctx, first))
		_, err = s.ActiveRun(ctx, "songs", partition.MustParse("2024-01-05"))
		assert.ErrorIs(t, err, runstore.ErrNotFound)
		require.NoError(t, s.CreateRun(ctx, newRun("run-5", "songs", "2024-01-03", t0)), "terminal runs release the partition")
	})

	t.Run("latest, list and non-terminal", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"a", "b", "c"} {
			run := newRun(id, "songs", "2024-01-01", t0.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.CreateRun(ctx, run))
			if id != "c" {
				run.State = model.RunFailed
				require.NoError(t, s.SaveRun(ctx, run))
			}
		}
		require.NoError(t, s.CreateRun(ctx, newRun("d", "purchases", "2024-01-01", t0.Add(time.Hour))))

		latest, err := s.LatestRun(ctx, "songs", partition.MustParse("2024-01-01"))
		require.NoError(t, err)
		assert.Equal(t, "c", latest.ID)
		_, err = s.LatestRun(ctx, "songs", partition.MustParse("2024-01-02"))
		assert.ErrorIs(t, err, runstore.ErrNotFound)

		runs, err := s.ListRuns(ctx, runstore.Filter{Pipeline: "songs"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, ids(runs))

		runs, err = s.ListRuns(ctx, runstore.Filter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, ids(runs))

		runs, err = s.ListRuns(ctx, runstore.Filter{State: model.RunFailed})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, ids(runs))

		pending, err := s.NonTerminalRuns(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, ids(pending))
		assert.Len(t, pending[0].Tasks, 2)
	})

	t.Run("save to unknown run fails", func(t *testing.T) {
		s := newStore(t)
		run := newRun("ghost", "songs", "2024-01-01", t0)
		assert.ErrorIs(t, s.SaveRun(ctx, run), runstore.ErrNotFound)
		assert.ErrorIs(t, s.SaveTask(ctx, run.Tasks[0]), runstore.ErrNotFound)
	})
}

func ids(runs []*model.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
