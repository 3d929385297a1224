package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vk/medallion/internal/coordinator"
)

type countingTicker struct {
	calls atomic.Int32
	err   error
}

func (c *countingTicker) TickAll(context.Context) ([]coordinator.Ticket, error) {
	c.calls.Add(1)
	return []coordinator.Ticket{{Pipeline: "songs", Outcome: coordinator.OutcomeNotDue}}, c.err
}

func TestScheduler_TicksUntilCancelled(t *testing.T) {
	ticker := &countingTicker{err: errors.New("store unavailable")}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		New(ticker, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ticker.calls.Load() >= 3 }, time.Second, time.Millisecond,
		"errors must not stop the loop")
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledWithoutInterval(t *testing.T) {
	ticker := &countingTicker{}
	New(ticker, 0).Run(context.Background())
	assert.Zero(t, ticker.calls.Load())
}
