package scheduler

import (
	"context"

	"github.com/vk/medallion/internal/coordinator"
)

// Ticker triggers the next due partition of every pipeline.
// *coordinator.Coordinator satisfies it.
type Ticker interface {
	TickAll(ctx context.Context) ([]coordinator.Ticket, error)
}
