package pipelines_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/definition"
	"github.com/vk/medallion/internal/hclconfig"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/pipelines"
	"github.com/vk/medallion/internal/registry"
	"github.com/vk/medallion/modules/httpapi"
	"github.com/vk/medallion/modules/localfs"
	"github.com/vk/medallion/modules/sqlsource"
	"github.com/vk/medallion/modules/warehouse"
)

func TestEmbeddedDefinitionsCompile(t *testing.T) {
	vars := map[string]string{
		"start_partition": "2024-01-01",
		"source_db":       "/data/source.db",
		"serving_db":      "/data/serving.db",
		"api_base_url":    "http://api.local",
		"api_token":       "",
	}
	require.ElementsMatch(t, pipelines.Variables, keys(vars))

	reg := registry.New()
	for _, m := range []registry.Module{&sqlsource.Module{}, &httpapi.Module{}, &localfs.Module{}, &warehouse.Module{}} {
		m.Register(reg)
	}

	raw, err := hclconfig.NewLoader(vars).LoadFS(context.Background(), pipelines.FS())
	require.NoError(t, err)
	compiled, err := definition.Compile(context.Background(), raw, reg)
	require.NoError(t, err)
	require.Len(t, compiled, 2)

	byName := make(map[string]*model.Pipeline)
	for _, p := range compiled {
		byName[p.Name] = p
	}

	songs := byName["songs"]
	require.NotNil(t, songs)
	assert.Equal(t, []string{"rds"}, songs.Sources)
	assert.Equal(t, "2024-01-01", songs.StartPartition.String())
	extract, ok := songs.Task("extract_songs")
	require.True(t, ok)
	assert.Equal(t, "/data/source.db", extract.Params["dsn"])

	purchases := byName["purchases"]
	require.NotNil(t, purchases)
	assert.Equal(t, []string{"users", "sessions"}, purchases.Sources)
	assert.Equal(t, 2, purchases.MaxParallel)
	assert.ElementsMatch(t, []string{"quality_users", "quality_sessions", "model_purchases"}, purchases.TransitiveDependents("transform_json"))
	load, ok := purchases.Task("model_purchases")
	require.True(t, ok)
	assert.True(t, load.Retryable(), "the warehouse load is safe to re-apply")
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
