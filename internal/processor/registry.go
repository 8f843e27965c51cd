package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Registry routes pulled records to processors by event type.
type Registry struct {
	mu      sync.RWMutex
	byType  map[string]Processor
	generic Processor
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byType: make(map[string]Processor),
		logger: logger,
	}
}

// Register binds a processor to one or more event types.
// Panics if an event type is already bound; registration happens during
// startup, before any dispatch.
func (r *Registry) Register(p Processor, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range eventTypes {
		if _, exists := r.byType[t]; exists {
			panic("processor already registered for event type: " + t)
		}
		r.byType[t] = p
	}
}

// SetGeneric sets the fallback processor for event types without a specific
// binding. Should be called during initialization.
func (r *Registry) SetGeneric(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generic = p
}

// RegisteredTypes returns all bound event types.
func (r *Registry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// Process groups records by event type and dispatches each group to its
// processor. Processor failures are logged, never propagated; the stored
// records remain available for the next dispatch.
func (r *Registry) Process(ctx context.Context, records []types.EventClient) {
	if len(records) == 0 {
		return
	}

	groups := make(map[Processor][]types.EventClient)
	order := make([]Processor, 0)
	for _, rec := range records {
		p := r.lookup(rec.Event.EventType)
		if p == nil {
			continue
		}
		if _, seen := groups[p]; !seen {
			order = append(order, p)
		}
		groups[p] = append(groups[p], rec)
	}

	for _, p := range order {
		batch := groups[p]
		if err := p.Process(ctx, batch); err != nil {
			r.logger.Error("record processor failed",
				"processor", p.Name(), "records", len(batch), "error", err)
		}
	}
}

func (r *Registry) lookup(eventType string) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.byType[eventType]; ok {
		return p
	}
	return r.generic
}
