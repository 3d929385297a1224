package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
	"golang.org/x/sync/errgroup"
)

// Request asks for one partition of a pipeline to be processed.
type Request struct {
	Pipeline string
	// Partition is the partition to process; zero means the one after the
	// pipeline's watermark.
	Partition partition.Key
	// Force processes the partition even if the watermark already covers it.
	Force bool
}

// Outcome says what a trigger did.
type Outcome string

const (
	// OutcomeStarted means a new run was created and is executing.
	OutcomeStarted Outcome = "started"
	// OutcomeInFlight means a run for the same partition was already
	// executing; its id is returned and nothing new was started.
	OutcomeInFlight Outcome = "in_flight"
	// OutcomeCommitted means the watermark already covers the partition.
	OutcomeCommitted Outcome = "already_committed"
	// OutcomeNotDue is reported by TickAll for partitions that have not ended yet.
	OutcomeNotDue Outcome = "not_due"
)

// Ticket is the answer to a trigger.
type Ticket struct {
	RunID     string        `json:"run_id,omitempty"`
	Pipeline  string        `json:"pipeline"`
	Partition partition.Key `json:"partition"`
	Outcome   Outcome       `json:"outcome"`
}

// Trigger creates and starts a run for req, unless an equivalent run is
// already executing or the partition is already committed. Conflicting
// requests fail with a *failure.ConcurrencyConflictError: a forced trigger
// for a partition whose run is still in flight is one of them, as is any
// trigger whose partition overlaps an in-flight run without being equal
// to it. Only a non-forced trigger for the identical partition returns the
// in-flight run with OutcomeInFlight.
func (c *Coordinator) Trigger(ctx context.Context, req Request) (Ticket, error) {
	p, err := c.Pipeline(req.Pipeline)
	if err != nil {
		return Ticket{}, err
	}
	key := req.Partition
	if key.IsZero() {
		if key, err = c.NextPartition(ctx, p); err != nil {
			return Ticket{}, err
		}
	}
	ticket := Ticket{Pipeline: p.Name, Partition: key}
	logger := ctxlog.FromContext(ctx).With("pipeline", p.Name, "partition", key.String(), "force", req.Force)

	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.runs.ActiveRun(ctx, p.Name, key)
	switch {
	case err == nil:
		if !req.Force && active.Partition.Equal(key) {
			logger.Info("Run for this partition is already in flight.", "runID", active.ID)
			ticket.RunID, ticket.Outcome = active.ID, OutcomeInFlight
			return ticket, nil
		}
		return Ticket{}, runstore.InFlight(active, key)
	case !errors.Is(err, runstore.ErrNotFound):
		return Ticket{}, err
	}

	if !req.Force {
		covered, err := c.committed(ctx, p, key)
		if err != nil {
			return Ticket{}, err
		}
		if covered {
			ticket.Outcome = OutcomeCommitted
			latest, err := c.runs.LatestRun(ctx, p.Name, key)
			switch {
			case err == nil:
				ticket.RunID = latest.ID
			case !errors.Is(err, runstore.ErrNotFound):
				return Ticket{}, err
			}
			logger.Info("Partition is already committed, nothing to do.", "runID", ticket.RunID)
			return ticket, nil
		}
	}

	run := model.NewRun(c.newID(), p, key, req.Force, c.now())
	if err := c.runs.CreateRun(ctx, run); err != nil {
		return Ticket{}, err
	}
	logger.Info("Run created.", "runID", run.ID)
	c.launch(ctx, p, run)

	ticket.RunID, ticket.Outcome = run.ID, OutcomeStarted
	return ticket, nil
}

// NextPartition returns the partition after the pipeline's watermark: the
// day after the least advanced of its sources, or the pipeline's start
// partition when any source has never been committed.
func (c *Coordinator) NextPartition(ctx context.Context, p *model.Pipeline) (partition.Key, error) {
	var lowest partition.Key
	for i, src := range p.Sources {
		key, ok, err := c.marks.Get(ctx, p.Name, src)
		if err != nil {
			return partition.Key{}, err
		}
		if !ok {
			return c.startPartition(p)
		}
		if i == 0 || key.Compare(lowest) < 0 {
			lowest = key
		}
	}
	if lowest.IsZero() {
		return c.startPartition(p)
	}
	return lowest.Next(), nil
}

func (c *Coordinator) startPartition(p *model.Pipeline) (partition.Key, error) {
	if p.StartPartition.IsZero() {
		return partition.Key{}, &failure.DefinitionError{
			Pipeline: p.Name,
			Err:      errors.New("no watermark yet and no start_partition; trigger with an explicit partition"),
		}
	}
	return p.StartPartition, nil
}

// committed reports whether every source's watermark already covers key.
func (c *Coordinator) committed(ctx context.Context, p *model.Pipeline, key partition.Key) (bool, error) {
	if len(p.Sources) == 0 {
		return false, nil
	}
	for _, src := range p.Sources {
		wm, ok, err := c.marks.Get(ctx, p.Name, src)
		if err != nil {
			return false, err
		}
		if !ok || !wm.Covers(key) {
			return false, nil
		}
	}
	return true, nil
}

// TickAll triggers the next partition of every pipeline concurrently. A
// partition is only due once its last day has ended. Conflicts with runs
// already in flight are expected on a schedule and are not errors.
func (c *Coordinator) TickAll(ctx context.Context) ([]Ticket, error) {
	logger := ctxlog.FromContext(ctx)
	today := partition.Day(c.now())

	var (
		mu      sync.Mutex
		tickets []Ticket
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.names {
		p := c.pipelines[name]
		g.Go(func() error {
			key, err := c.NextPartition(gctx, p)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", p.Name, err)
			}
			ticket := Ticket{Pipeline: p.Name, Partition: key, Outcome: OutcomeNotDue}
			if key.End().Before(today.Start()) {
				ticket, err = c.Trigger(gctx, Request{Pipeline: p.Name, Partition: key})
				var conflict *failure.ConcurrencyConflictError
				if errors.As(err, &conflict) {
					logger.Debug("Scheduled trigger overlaps an in-flight run.", "pipeline", p.Name, "error", err)
					return nil
				}
				if err != nil {
					return fmt.Errorf("pipeline %s: %w", p.Name, err)
				}
			}
			mu.Lock()
			tickets = append(tickets, ticket)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Pipeline < tickets[j].Pipeline })
	return tickets, err
}
