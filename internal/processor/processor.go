// Package processor fans freshly pulled records out to domain handlers.
// Handlers are keyed by event type; a generic handler catches everything
// without a type-specific one.
package processor

import (
	"context"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Processor handles one slice of pulled records, each event paired with its
// owning client. Processing runs after the page is durably stored, so a
// failing processor never loses data; it is logged and the cycle continues.
type Processor interface {
	// Name identifies the processor in logs.
	Name() string
	// Process handles the records. Implementations must tolerate re-delivery:
	// an interrupted cycle re-applies pages and re-dispatches their records.
	Process(ctx context.Context, records []types.EventClient) error
}

// Func adapts a plain function to the Processor interface.
type Func struct {
	ProcessorName string
	Fn            func(ctx context.Context, records []types.EventClient) error
}

func (f Func) Name() string { return f.ProcessorName }

func (f Func) Process(ctx context.Context, records []types.EventClient) error {
	return f.Fn(ctx, records)
}
