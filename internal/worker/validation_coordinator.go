package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/metrics"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// Validator runs one validation round trip against the server.
type Validator interface {
	Validate(ctx context.Context) (types.ValidationOutcome, error)
}

// ValidationCoordinator re-validates acknowledged records on an interval.
type ValidationCoordinator struct {
	validator Validator
	interval  time.Duration
}

func NewValidationCoordinator(validator Validator, interval time.Duration) *ValidationCoordinator {
	return &ValidationCoordinator{validator: validator, interval: interval}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
// Validation waits for the first tick; there is no urgency to re-check
// records the moment the daemon starts.
func (c *ValidationCoordinator) Run(ctx context.Context) {
	slog.Info("validation coordinator started",
		"component", "worker",
		"worker", "validation-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("validation coordinator stopped",
				"component", "worker",
				"worker", "validation-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.round(ctx)
		}
	}
}

func (c *ValidationCoordinator) round(ctx context.Context) {
	outcome, err := c.validator.Validate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("validation round failed",
			"component", "worker",
			"worker", "validation-coordinator",
			"error", err,
		)
	}
	metrics.ValidationRounds.WithLabelValues(string(outcome)).Inc()
}
