package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/registry"
)

// FakeOperation is the operation name Fakes registers for every task kind.
const FakeOperation = "fake"

// Script decides the outcome of one attempt of a task. attempt is 1-based.
type Script func(ctx context.Context, attempt int) (rows int64, err error)

// Fakes is a scriptable set of collaborators for engine and coordinator
// tests. Scripts and measurements are keyed by task id; unscripted tasks
// succeed with zero rows after Delay.
type Fakes struct {
	// Delay is how long every attempt takes unless its script says otherwise.
	Delay time.Duration

	mu         sync.Mutex
	scripts    map[string]Script
	measures   map[string][]collaborator.Measurement
	executions map[string][]ExecutionRecord
	started    []string
	running    int
	peak       int
	requests   map[string][]any
}

// NewFakes creates an empty set of fake collaborators.
func NewFakes() *Fakes {
	return &Fakes{
		scripts:    make(map[string]Script),
		measures:   make(map[string][]collaborator.Measurement),
		executions: make(map[string][]ExecutionRecord),
		requests:   make(map[string][]any),
	}
}

// On scripts the attempts of taskID.
func (f *Fakes) On(taskID string, s Script) *Fakes {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[taskID] = s
	return f
}

// Measure sets the measurements the fake evaluator reports for taskID.
func (f *Fakes) Measure(taskID string, ms ...collaborator.Measurement) *Fakes {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measures[taskID] = ms
	return f
}

// Register implements registry.Module.
func (f *Fakes) Register(r *registry.Registry) {
	r.RegisterExtractor(FakeOperation, collaborator.ExtractorFunc(func(ctx context.Context, req collaborator.ExtractRequest) (collaborator.Result, error) {
		rows, err := f.attempt(ctx, req.TaskID, req)
		return collaborator.Result{Rows: rows}, err
	}))
	r.RegisterTransformer(FakeOperation, collaborator.TransformerFunc(func(ctx context.Context, req collaborator.TransformRequest) (collaborator.Result, error) {
		rows, err := f.attempt(ctx, req.TaskID, req)
		return collaborator.Result{Rows: rows}, err
	}))
	r.RegisterEvaluator(FakeOperation, collaborator.EvaluatorFunc(func(ctx context.Context, req collaborator.EvaluateRequest) ([]collaborator.Measurement, error) {
		if _, err := f.attempt(ctx, req.TaskID, req); err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.measures[req.TaskID], nil
	}))
	r.RegisterModeler(FakeOperation, collaborator.ModelerFunc(func(ctx context.Context, req collaborator.LoadRequest) (collaborator.Result, error) {
		rows, err := f.attempt(ctx, req.TaskID, req)
		return collaborator.Result{Rows: rows}, err
	}))
}

func (f *Fakes) attempt(ctx context.Context, taskID string, req any) (int64, error) {
	f.mu.Lock()
	f.started = append(f.started, taskID)
	f.requests[taskID] = append(f.requests[taskID], req)
	n := len(f.requests[taskID])
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	script := f.scripts[taskID]
	delay := f.Delay
	f.mu.Unlock()

	start := time.Now()
	defer func() {
		f.mu.Lock()
		f.running--
		f.executions[taskID] = append(f.executions[taskID], ExecutionRecord{Start: start, End: time.Now()})
		f.mu.Unlock()
	}()

	if script != nil {
		return script(ctx, n)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, nil
}

// Calls returns how many attempts of taskID were made.
func (f *Fakes) Calls(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[taskID])
}

// Requests returns the requests received for taskID, in order.
func (f *Fakes) Requests(taskID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.requests[taskID]...)
}

// Started returns task ids in the order their attempts began.
func (f *Fakes) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// Executions returns the timing of every finished attempt of taskID.
func (f *Fakes) Executions(taskID string) []ExecutionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecutionRecord(nil), f.executions[taskID]...)
}

// Peak returns the largest number of attempts that were running at once.
func (f *Fakes) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// FailTimes returns a script whose first n attempts fail with err.
func FailTimes(n int, err error) Script {
	return func(_ context.Context, attempt int) (int64, error) {
		if attempt <= n {
			return 0, err
		}
		return 1, nil
	}
}

// Fail returns a script whose every attempt fails with err.
func Fail(err error) Script {
	return func(context.Context, int) (int64, error) { return 0, err }
}

// Rows returns a script that succeeds with n rows.
func Rows(n int64) Script {
	return func(context.Context, int) (int64, error) { return n, nil }
}

// Block returns a script that waits for release to close or ctx to end.
// started, when not nil, is signalled as each attempt begins.
func Block(started chan<- struct{}, release <-chan struct{}) Script {
	return func(ctx context.Context, _ int) (int64, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Sleep returns a script that succeeds after d unless ctx ends first.
func Sleep(d time.Duration) Script {
	return func(ctx context.Context, _ int) (int64, error) {
		select {
		case <-time.After(d):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
