package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/registry"
)

// fakeAPI serves two pages of users per day and records the requests it saw.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path+"?"+r.URL.RawQuery)
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "upstream says no", status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer t0k" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	date := r.URL.Query().Get("date")
	var out []map[string]any
	if page <= 2 {
		out = append(out, map[string]any{"user_id": fmt.Sprintf("%s-%d", date, page), "page": page})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (f *fakeAPI) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newExtractor(t *testing.T, api *fakeAPI) (collaborator.Extractor, string) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	r := registry.New()
	(&Module{Client: srv.Client()}).Register(r)
	ex, ok := r.Extractor(UsersOperation)
	require.True(t, ok)
	return ex, srv.URL
}

func TestExtract_PagesEveryDay(t *testing.T) {
	api := &fakeAPI{}
	ex, base := newExtractor(t, api)
	dest := filepath.Join(t.TempDir(), "landing", "api", "extract_users", "2024-01-01..2024-01-02")

	res, err := ex.Extract(context.Background(), collaborator.ExtractRequest{
		Source:      "users",
		Partition:   partition.MustParse("2024-01-01..2024-01-02"),
		Destination: dest,
		Params:      map[string]string{"base_url": base + "/", "token": "t0k"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows)
	assert.Equal(t, []string{
		"/users?date=2024-01-01&page=1",
		"/users?date=2024-01-01&page=2",
		"/users?date=2024-01-01&page=3",
		"/users?date=2024-01-02&page=1",
		"/users?date=2024-01-02&page=2",
		"/users?date=2024-01-02&page=3",
	}, api.seen())

	var ids []any
	require.NoError(t, fsutil.ReadDataset(context.Background(), dest, func(r fsutil.Record) error {
		ids = append(ids, r["user_id"])
		return nil
	}))
	assert.Equal(t, []any{"2024-01-01-1", "2024-01-01-2", "2024-01-02-1", "2024-01-02-2"}, ids)
}

func TestExtract_EndpointOverride(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	r := registry.New()
	(&Module{Client: srv.Client()}).Register(r)
	ex, ok := r.Extractor(SessionsOperation)
	require.True(t, ok)

	_, err := ex.Extract(context.Background(), collaborator.ExtractRequest{
		Partition:   partition.MustParse("2024-01-01"),
		Destination: filepath.Join(t.TempDir(), "out"),
		Params:      map[string]string{"base_url": srv.URL, "endpoint": "/v2/sessions", "token": "t0k"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/v2/sessions?date=2024-01-01&page=1", api.seen()[0])
}

func TestExtract_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		token  string
		class  failure.Class
	}{
		{"throttled", http.StatusTooManyRequests, "t0k", failure.ClassTransient},
		{"server error", http.StatusBadGateway, "t0k", failure.ClassTransient},
		{"bad credentials", 0, "wrong", failure.ClassPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ex, base := newExtractor(t, &fakeAPI{status: tc.status})
			_, err := ex.Extract(context.Background(), collaborator.ExtractRequest{
				Partition:   partition.MustParse("2024-01-01"),
				Destination: filepath.Join(t.TempDir(), "out"),
				Params:      map[string]string{"base_url": base, "token": tc.token},
			})
			require.Error(t, err)
			assert.Equal(t, tc.class, failure.Classify(err))
		})
	}
}

func TestExtract_MaxPages(t *testing.T) {
	ex, base := newExtractor(t, &fakeAPI{})
	_, err := ex.Extract(context.Background(), collaborator.ExtractRequest{
		Partition:   partition.MustParse("2024-01-01"),
		Destination: filepath.Join(t.TempDir(), "out"),
		Params:      map[string]string{"base_url": base, "token": "t0k", "max_pages": "1"},
	})
	assert.ErrorContains(t, err, "exceeded max_pages=1")
	assert.Equal(t, failure.ClassPermanent, failure.Classify(err))
}

func TestExtract_MissingBaseURL(t *testing.T) {
	ex, _ := newExtractor(t, &fakeAPI{})
	_, err := ex.Extract(context.Background(), collaborator.ExtractRequest{Partition: partition.MustParse("2024-01-01")})
	assert.ErrorContains(t, err, `missing required parameter "base_url"`)
}
