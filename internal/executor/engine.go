package executor

import (
	"time"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/runstore"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxParallel is the per-run parallelism when neither the engine
// options nor the pipeline set one.
const DefaultMaxParallel = 4

// Operations resolves operation names to collaborators. *registry.Registry
// satisfies it.
type Operations interface {
	Extractor(name string) (collaborator.Extractor, bool)
	Transformer(name string) (collaborator.Transformer, bool)
	Evaluator(name string) (collaborator.Evaluator, bool)
	Modeler(name string) (collaborator.Modeler, bool)
}

// Options tune an Engine.
type Options struct {
	// MaxParallel caps concurrently running tasks of one run. A pipeline's
	// own max_parallel takes precedence.
	MaxParallel int
	// PoolCapacity caps in-flight collaborator calls across all runs.
	// Zero means MaxParallel.
	PoolCapacity int64
	Layout       collaborator.Layout
	// Now is the clock used for recorded timestamps and retry backoff.
	// Defaults to time.Now.
	Now func() time.Time
}

// Engine is the default Executor.
type Engine struct {
	ops         Operations
	store       runstore.Store
	pool        *semaphore.Weighted
	layout      collaborator.Layout
	maxParallel int
	now         func() time.Time
}

var _ Executor = (*Engine)(nil)

// New creates an engine that persists every transition to store.
func New(ops Operations, store runstore.Store, opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.PoolCapacity <= 0 {
		opts.PoolCapacity = int64(opts.MaxParallel)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		ops:         ops,
		store:       store,
		pool:        semaphore.NewWeighted(opts.PoolCapacity),
		layout:      opts.Layout,
		maxParallel: opts.MaxParallel,
		now:         opts.Now,
	}
}

// Layout returns the dataset layout the engine writes to.
func (e *Engine) Layout() collaborator.Layout {
	return e.layout
}
