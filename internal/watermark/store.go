// Package watermark defines the durable record of incremental progress: per
// pipeline and source, the highest partition fully and successfully committed.
//
// A watermark only moves forward, and all sources of a pipeline move
// together. Every update names the value it expects to replace, so two runs
// that race to commit cannot silently overwrite each other.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/partition"
)

// Watermark is the committed position of one (pipeline, source).
type Watermark struct {
	Pipeline  string        `json:"pipeline"`
	Source    string        `json:"source"`
	Partition partition.Key `json:"partition"`
	RunID     string        `json:"run_id"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Update is one compare-and-swap step. A zero Expected means "no watermark yet".
type Update struct {
	Source   string
	Expected partition.Key
	Next     partition.Key
}

// Store is the interface for reading and advancing watermarks.
//
// Implementations MUST be safe for concurrent use by multiple runs.
type Store interface {
	// Get returns the watermark of (pipeline, source). ok is false when none
	// has been committed.
	Get(ctx context.Context, pipeline, source string) (key partition.Key, ok bool, err error)

	// List returns every watermark, ordered by pipeline then source.
	List(ctx context.Context) ([]Watermark, error)

	// Advance applies all updates atomically on behalf of runID. If any
	// source's current value differs from its Expected value, nothing is
	// written and a *failure.ConcurrencyConflictError is returned. An update
	// whose Next does not move past Expected is rejected.
	Advance(ctx context.Context, pipeline, runID string, updates []Update) error
}

// CheckForward validates that every update moves its source forward.
func CheckForward(pipeline string, updates []Update) error {
	for _, u := range updates {
		if u.Next.IsZero() {
			return fmt.Errorf("watermark %s/%s: next partition is empty", pipeline, u.Source)
		}
		if u.Expected.Covers(u.Next) {
			return fmt.Errorf("watermark %s/%s would not advance: %s -> %s", pipeline, u.Source, u.Expected, u.Next)
		}
	}
	return nil
}

// Conflict builds the error returned when a compare-and-swap fails.
func Conflict(pipeline, source string, expected, actual partition.Key) error {
	return &failure.ConcurrencyConflictError{
		Pipeline:  pipeline,
		Partition: source,
		Reason:    fmt.Sprintf("watermark moved: expected %q, found %q", expected, actual),
	}
}
