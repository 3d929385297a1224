package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Song is one row of the songs source table.
type Song struct {
	ID          string
	Title       string // empty is stored as NULL
	Artist      string
	ReleaseYear int
	UpdatedAt   string // "YYYY-MM-DD HH:MM:SS"
}

// SongsSource creates a relational source database in a temp dir holding a
// songs table with the given rows, and returns its path.
func SongsSource(t *testing.T, songs ...Song) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE songs (
		song_id TEXT PRIMARY KEY,
		title TEXT,
		artist_name TEXT,
		release_year INTEGER,
		updated_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	for _, s := range songs {
		var title any
		if s.Title != "" {
			title = s.Title
		}
		_, err := db.Exec(`INSERT INTO songs VALUES (?, ?, ?, ?, ?)`, s.ID, title, s.Artist, s.ReleaseYear, s.UpdatedAt)
		require.NoError(t, err)
	}
	return path
}

// MusicAPI is an in-process stand-in for the users and sessions API. It
// serves one page per day and endpoint from the records set with Day.
type MusicAPI struct {
	URL string

	mu       sync.Mutex
	users    map[string][]map[string]any
	sessions map[string][]map[string]any
	failing  int
}

// NewMusicAPI starts a MusicAPI that is closed when the test ends.
func NewMusicAPI(t *testing.T) *MusicAPI {
	t.Helper()
	api := &MusicAPI{
		users:    make(map[string][]map[string]any),
		sessions: make(map[string][]map[string]any),
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	api.URL = srv.URL
	return api
}

// Day sets the users and sessions served for date ("YYYY-MM-DD").
func (a *MusicAPI) Day(date string, users, sessions []map[string]any) *MusicAPI {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[date] = users
	a.sessions[date] = sessions
	return a
}

// FailWith makes every request answer with status; 0 restores normal service.
func (a *MusicAPI) FailWith(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = status
}

func (a *MusicAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	failing := a.failing
	var byDay map[string][]map[string]any
	switch r.URL.Path {
	case "/users":
		byDay = a.users
	case "/sessions":
		byDay = a.sessions
	}
	var out []map[string]any
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 1 {
		out = byDay[r.URL.Query().Get("date")]
	}
	a.mu.Unlock()

	if failing != 0 {
		http.Error(w, http.StatusText(failing), failing)
		return
	}
	if byDay == nil {
		http.NotFound(w, r)
		return
	}
	if out == nil {
		out = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
