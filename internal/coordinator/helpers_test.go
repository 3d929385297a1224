package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/executor"
	"github.com/vk/medallion/internal/inmemorystore"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/registry"
	"github.com/vk/medallion/internal/testutil"
)

// songsPipeline mirrors the relational songs pipeline.
func songsPipeline() *model.Pipeline {
	extract := testutil.Task("extract_songs", model.KindExtract)
	extract.Source = "rds"
	return testutil.Pipeline("songs",
		extract,
		testutil.Task("transform_songs", model.KindTransform, "extract_songs"),
		testutil.QualityTask("quality_songs", "transform_songs",
			model.Rule{ID: "has_rows", Metric: "row_count", Operator: model.OpGreaterThan, Threshold: 0},
			model.Rule{ID: "unique_user_id", Field: "user_id", Operator: model.OpUniquenessRatioAtLeast, Threshold: 0.95},
		),
		testutil.Task("model_songs", model.KindModel, "quality_songs"),
	)
}

// apiPipeline mirrors the two-source API pipeline.
func apiPipeline() *model.Pipeline {
	users := testutil.Task("extract_users", model.KindExtract)
	users.Source = "users"
	sessions := testutil.Task("extract_sessions", model.KindExtract)
	sessions.Source = "sessions"
	return testutil.Pipeline("api",
		users,
		sessions,
		testutil.Task("transform_json", model.KindTransform, "extract_users", "extract_sessions"),
		testutil.QualityTask("quality_users", "transform_json",
			model.Rule{ID: "users_complete", Field: "user_id", Operator: model.OpCompletenessAtLeast, Threshold: 0.99},
		),
		testutil.QualityTask("quality_sessions", "transform_json",
			model.Rule{ID: "sessions_present", Metric: "row_count", Operator: model.OpGreaterThan, Threshold: 0},
		),
		testutil.Task("model_purchases", model.KindModel, "quality_users", "quality_sessions"),
	)
}

func passSongs(f *testutil.Fakes) {
	f.Measure("quality_songs",
		collaborator.Measurement{RuleID: "has_rows", Value: 500},
		collaborator.Measurement{RuleID: "unique_user_id", Value: 1},
	)
}

func passAPI(f *testutil.Fakes) {
	f.Measure("quality_users", collaborator.Measurement{RuleID: "users_complete", Value: 1})
	f.Measure("quality_sessions", collaborator.Measurement{RuleID: "sessions_present", Value: 10})
}

type env struct {
	coord *Coordinator
	store *inmemorystore.Store
	fakes *testutil.Fakes
	now   time.Time
}

func newEnv(t *testing.T, pipelines ...*model.Pipeline) *env {
	t.Helper()
	return newEnvWithStore(t, inmemorystore.New(), pipelines...)
}

func newEnvWithStore(t *testing.T, store *inmemorystore.Store, pipelines ...*model.Pipeline) *env {
	t.Helper()
	e := &env{
		store: store,
		fakes: testutil.NewFakes(),
		now:   time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	reg := registry.New()
	e.fakes.Register(reg)
	engine := executor.New(reg, store, executor.Options{Layout: collaborator.Layout{Root: "/data"}})

	var seq atomic.Int64
	coord, err := New(pipelines, engine, store, store, Options{
		Now:   func() time.Time { return e.now },
		NewID: func() string { return fmt.Sprintf("run-%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	e.coord = coord
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return e
}

func (e *env) trigger(t *testing.T, pipeline, key string, force bool) Ticket {
	t.Helper()
	req := Request{Pipeline: pipeline, Force: force}
	if key != "" {
		req.Partition = partition.MustParse(key)
	}
	ticket, err := e.coord.Trigger(context.Background(), req)
	require.NoError(t, err)
	return ticket
}

func (e *env) wait(t *testing.T, runID string) *model.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := e.coord.Wait(ctx, runID)
	require.NoError(t, err)
	return run
}

func (e *env) watermark(t *testing.T, pipeline, source string) string {
	t.Helper()
	key, ok, err := e.store.Get(context.Background(), pipeline, source)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return key.String()
}

func taskStates(run *model.Run) map[string]model.TaskState {
	out := make(map[string]model.TaskState, len(run.Tasks))
	for _, ti := range run.Tasks {
		out[ti.TaskID] = ti.State
	}
	return out
}
