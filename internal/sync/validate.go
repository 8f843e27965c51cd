package sync

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// DefaultValidateLimit is the number of record ids submitted per validation
// request, clients and events combined.
const DefaultValidateLimit = 100

// ValidationEngine re-checks previously accepted records against the server.
// Records the server flags invalid are re-queued for push; the rest of the
// submitted batch is confirmed valid.
type ValidationEngine struct {
	store     store.Store
	transport Transport
	logger    *slog.Logger
	limit     int
}

func NewValidationEngine(st store.Store, tr Transport, logger *slog.Logger) *ValidationEngine {
	return &ValidationEngine{store: st, transport: tr, logger: logger, limit: DefaultValidateLimit}
}

// SetLimit overrides the batch size. Intended for tests.
func (v *ValidationEngine) SetLimit(limit int) { v.limit = limit }

// Validate runs one validation round trip. Client entity keys fill the batch
// first; any remaining room goes to event submission ids.
func (v *ValidationEngine) Validate(ctx context.Context) (types.ValidationOutcome, error) {
	clientIDs, err := v.store.UnvalidatedClientIDs(ctx, v.limit)
	if err != nil {
		return types.ValidationFailed, err
	}

	var eventIDs []string
	if room := v.limit - len(clientIDs); room > 0 {
		eventIDs, err = v.store.UnvalidatedEventIDs(ctx, room)
		if err != nil {
			return types.ValidationFailed, err
		}
	}

	if len(clientIDs) == 0 && len(eventIDs) == 0 {
		return types.ValidationNothing, nil
	}

	resp, err := v.transport.Validate(ctx, types.ValidateRequest{Clients: clientIDs, Events: eventIDs})
	if err != nil {
		v.logger.Error("validation request failed", "error", err)
		return types.ValidationFailed, err
	}
	if resp == nil {
		// The server returned nothing actionable; leave every verdict as is.
		return types.ValidationNothing, nil
	}

	invalidClients := toSet(resp.Clients)
	invalidEvents := toSet(resp.Events)

	for _, id := range clientIDs {
		if err := v.store.MarkClientValidation(ctx, id, !invalidClients[id]); err != nil {
			return types.ValidationFailed, err
		}
	}
	for _, id := range eventIDs {
		if err := v.store.MarkEventValidation(ctx, id, !invalidEvents[id]); err != nil {
			return types.ValidationFailed, err
		}
	}

	v.logger.Info("validation completed",
		"clients", len(clientIDs), "events", len(eventIDs),
		"invalid_clients", len(resp.Clients), "invalid_events", len(resp.Events))
	return types.ValidationSuccess, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
