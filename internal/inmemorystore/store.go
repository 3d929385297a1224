package inmemorystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/watermark"
)

type wmKey struct {
	pipeline string
	source   string
}

// Store is an in-memory implementation of watermark.Store and runstore.Store.
type Store struct {
	mu         sync.RWMutex
	watermarks map[wmKey]watermark.Watermark
	runs       map[string]*model.Run
	// seq orders runs by creation for deterministic listing.
	seq   map[string]int
	next  int
	clock func() time.Time
}

var (
	_ watermark.Store = (*Store)(nil)
	_ runstore.Store  = (*Store)(nil)
)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{
		watermarks: make(map[wmKey]watermark.Watermark),
		runs:       make(map[string]*model.Run),
		seq:        make(map[string]int),
		clock:      time.Now,
	}
}

// Get implements watermark.Store.
func (s *Store) Get(_ context.Context, pipeline, source string) (partition.Key, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[wmKey{pipeline, source}]
	return wm.Partition, ok, nil
}

// List implements watermark.Store.
func (s *Store) List(_ context.Context) ([]watermark.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]watermark.Watermark, 0, len(s.watermarks))
	for _, wm := range s.watermarks {
		out = append(out, wm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pipeline != out[j].Pipeline {
			return out[i].Pipeline < out[j].Pipeline
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

// Advance implements watermark.Store.
func (s *Store) Advance(_ context.Context, pipeline, runID string, updates []watermark.Update) error {
	if err := watermark.CheckForward(pipeline, updates); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		current := s.watermarks[wmKey{pipeline, u.Source}].Partition
		if !current.Equal(u.Expected) {
			return watermark.Conflict(pipeline, u.Source, u.Expected, current)
		}
	}
	now := s.clock().UTC()
	for _, u := range updates {
		s.watermarks[wmKey{pipeline, u.Source}] = watermark.Watermark{
			Pipeline:  pipeline,
			Source:    u.Source,
			Partition: u.Next,
			RunID:     runID,
			UpdatedAt: now,
		}
	}
	return nil
}

// CreateRun implements runstore.Store.
func (s *Store) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if active := s.activeLocked(run.Pipeline, run.Partition); active != nil {
		return runstore.InFlight(active, run.Partition)
	}
	s.runs[run.ID] = run.Clone()
	s.seq[run.ID] = s.next
	s.next++
	return nil
}

// SaveRun implements runstore.Store.
func (s *Store) SaveRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("save run %s: %w", run.ID, runstore.ErrNotFound)
	}
	stored.State = run.State
	stored.Error = run.Error
	stored.EndedAt = nil
	if run.EndedAt != nil {
		t := *run.EndedAt
		stored.EndedAt = &t
	}
	return nil
}

// SaveTask implements runstore.Store.
func (s *Store) SaveTask(_ context.Context, ti *model.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[ti.RunID]
	if !ok {
		return fmt.Errorf("save task %s: %w", ti.TaskID, runstore.ErrNotFound)
	}
	for i, cur := range stored.Tasks {
		if cur.TaskID == ti.TaskID {
			stored.Tasks[i] = ti.Clone()
			return nil
		}
	}
	return fmt.Errorf("run %s has no task %q", ti.RunID, ti.TaskID)
}

// GetRun implements runstore.Store.
func (s *Store) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	return run.Clone(), nil
}

// ActiveRun implements runstore.Store.
func (s *Store) ActiveRun(_ context.Context, pipeline string, key partition.Key) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if run := s.activeLocked(pipeline, key); run != nil {
		return run.Clone(), nil
	}
	return nil, runstore.ErrNotFound
}

func (s *Store) activeLocked(pipeline string, key partition.Key) *model.Run {
	for _, run := range s.ordered() {
		if run.Pipeline == pipeline && !run.State.IsTerminal() && run.Partition.Overlaps(key) {
			return run
		}
	}
	return nil
}

// LatestRun implements runstore.Store.
func (s *Store) LatestRun(_ context.Context, pipeline string, key partition.Key) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.ordered()
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Pipeline == pipeline && runs[i].Partition.Equal(key) {
			return runs[i].Clone(), nil
		}
	}
	return nil, runstore.ErrNotFound
}

// ListRuns implements runstore.Store.
func (s *Store) ListRuns(_ context.Context, f runstore.Filter) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.ordered()
	var out []*model.Run
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if f.Pipeline != "" && run.Pipeline != f.Pipeline {
			continue
		}
		if f.State != "" && run.State != f.State {
			continue
		}
		out = append(out, run.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// NonTerminalRuns implements runstore.Store.
func (s *Store) NonTerminalRuns(_ context.Context) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Run
	for _, run := range s.ordered() {
		if !run.State.IsTerminal() {
			out = append(out, run.Clone())
		}
	}
	return out, nil
}

// ordered returns runs in creation order. Callers hold s.mu.
func (s *Store) ordered() []*model.Run {
	runs := make([]*model.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return s.seq[runs[i].ID] < s.seq[runs[j].ID] })
	return runs
}
