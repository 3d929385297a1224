// Package coordinator turns trigger requests into runs, executes them in the
// background and commits watermarks when they succeed.
//
// The coordinator is the only component that advances watermarks, and it does
// so before recording a run as succeeded: a crash between the two leaves a
// run that is resumed, finds nothing left to do and commits idempotently.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/medallion/internal/executor"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/watermark"
)

var (
	// ErrUnknownPipeline is returned for a pipeline name that is not registered.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrRunFinished is returned when acting on a run that already ended.
	ErrRunFinished = errors.New("run already finished")
	// ErrRunExecuting is returned when settling a task of a run whose walk
	// is still in progress.
	ErrRunExecuting = errors.New("run is executing")
	// ErrNotResolvable is returned when settling a task that is not running.
	ErrNotResolvable = errors.New("task cannot be resolved")
)

// Options tune a Coordinator. Zero values pick production defaults.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

// Coordinator owns the lifecycle of runs.
type Coordinator struct {
	pipelines map[string]*model.Pipeline
	names     []string
	exec      executor.Executor
	runs      runstore.Store
	marks     watermark.Store
	now       func() time.Time
	newID     func() string

	// mu serializes triggers so that the in-flight check and run creation
	// of this process never interleave. It also guards active.
	mu     sync.Mutex
	active map[string]*execution
	wg     sync.WaitGroup
}

// execution is a run whose walk is in progress in this process.
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator over the given compiled pipelines.
func New(pipelines []*model.Pipeline, exec executor.Executor, runs runstore.Store, marks watermark.Store, opts Options) (*Coordinator, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	c := &Coordinator{
		pipelines: make(map[string]*model.Pipeline, len(pipelines)),
		exec:      exec,
		runs:      runs,
		marks:     marks,
		now:       opts.Now,
		newID:     opts.NewID,
		active:    make(map[string]*execution),
	}
	for _, p := range pipelines {
		if _, dup := c.pipelines[p.Name]; dup {
			return nil, fmt.Errorf("pipeline %q registered twice", p.Name)
		}
		c.pipelines[p.Name] = p
		c.names = append(c.names, p.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Pipelines returns the registered pipeline names, sorted.
func (c *Coordinator) Pipelines() []string {
	return append([]string(nil), c.names...)
}

// Pipeline returns a registered pipeline.
func (c *Coordinator) Pipeline(name string) (*model.Pipeline, error) {
	p, ok := c.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPipeline, name)
	}
	return p, nil
}

// Status returns a snapshot of a run with its task instances.
func (c *Coordinator) Status(ctx context.Context, runID string) (*model.Run, error) {
	return c.runs.GetRun(ctx, runID)
}

// List returns runs newest first.
func (c *Coordinator) List(ctx context.Context, f runstore.Filter) ([]*model.Run, error) {
	return c.runs.ListRuns(ctx, f)
}

// Watermarks returns every committed watermark.
func (c *Coordinator) Watermarks(ctx context.Context) ([]watermark.Watermark, error) {
	return c.marks.List(ctx)
}

// Shutdown waits for every run executing in this process to finish its
// walk. Runs that are still going when ctx ends are left non-terminal in
// the store and picked up by Resume on the next start.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
