package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/metrics"
	"github.com/hyperengineering/vitalsync/internal/processor"
	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultPullLimit is the page size requested from the server.
	DefaultPullLimit = 250
	// DefaultMaxRetries bounds re-attempts of a failed fetch. The first call
	// plus the retries gives maxRetries+1 attempts per page.
	DefaultMaxRetries = 3
)

// PullEngine drains the server's record feed into the local store, one page
// at a time, advancing the watermark only after each page is durably applied.
type PullEngine struct {
	store       store.Store
	transport   Transport
	processors  *processor.Registry
	broadcaster *Broadcaster
	logger      *slog.Logger

	limit      int
	maxRetries uint64
	backoff    time.Duration
}

// NewPullEngine wires a pull engine with the default page size and retry
// budget. processors may be nil when no post-pull processing is registered.
func NewPullEngine(st store.Store, tr Transport, procs *processor.Registry, bc *Broadcaster, logger *slog.Logger) *PullEngine {
	return &PullEngine{
		store:       st,
		transport:   tr,
		processors:  procs,
		broadcaster: bc,
		logger:      logger,
		limit:       DefaultPullLimit,
		maxRetries:  DefaultMaxRetries,
		backoff:     500 * time.Millisecond,
	}
}

// SetLimit overrides the page size. Intended for tests and constrained hosts.
func (p *PullEngine) SetLimit(limit int) { p.limit = limit }

// SetRetryPolicy overrides the retry budget and the base backoff.
func (p *PullEngine) SetRetryPolicy(maxRetries uint64, backoff time.Duration) {
	p.maxRetries = maxRetries
	p.backoff = backoff
}

// Pull runs one full pull cycle: pages are fetched and applied until the
// server reports nothing further. Returns the terminal status of the cycle.
// The watermark is re-read from the store before every fetch, so a cycle
// interrupted mid-way resumes where the last applied page left it.
func (p *PullEngine) Pull(ctx context.Context) (types.FetchStatus, error) {
	if p.transport == nil {
		err := errors.New("no transport configured")
		p.publish(StatusUpdate{Status: types.FetchedFailed, Terminal: true, Err: err})
		return types.FetchedFailed, err
	}

	p.publish(StatusUpdate{Status: types.FetchStarted})

	totalFetched := 0
	for {
		resp, err := p.fetchPage(ctx)
		if err != nil {
			if errors.Is(err, ErrNoConnection) {
				p.logger.Warn("server unreachable", "error", err)
				p.publish(StatusUpdate{Status: types.NoConnection, Terminal: true, Err: err})
				return types.NoConnection, err
			}
			p.logger.Error("pull failed", "error", err)
			p.publish(StatusUpdate{Status: types.FetchedFailed, Terminal: true, Err: err})
			return types.FetchedFailed, err
		}

		if resp.NoOfEvents == 0 {
			status := types.NothingFetched
			if totalFetched > 0 {
				status = types.Fetched
			}
			if err := p.complete(ctx, status, totalFetched); err != nil {
				return status, err
			}
			return status, nil
		}

		applied, err := p.applyPage(ctx, resp)
		if err != nil {
			p.logger.Error("apply pull page failed", "error", err)
			p.publish(StatusUpdate{Status: types.FetchedFailed, Terminal: true, Err: err})
			return types.FetchedFailed, err
		}
		totalFetched += applied
		p.publish(StatusUpdate{Status: types.Fetched, Fetched: applied})
	}
}

// fetchPage fetches the page after the current watermark, retrying transient
// failures with the same watermark. URL, timeout, filter, and connectivity
// failures abort without consuming the retry budget; a malformed response
// body is retryable.
func (p *PullEngine) fetchPage(ctx context.Context) (*types.PullResponse, error) {
	watermark, err := p.store.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	base := p.backoff
	if base <= 0 {
		base = time.Nanosecond
	}

	var resp *types.PullResponse
	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewConstant(base))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := p.transport.Pull(ctx, watermark, p.limit)
		if err != nil {
			if errors.Is(err, ErrMalformedURL) || errors.Is(err, ErrTimeout) ||
				errors.Is(err, ErrMissingFilter) || errors.Is(err, ErrNoConnection) {
				return err
			}
			p.logger.Warn("pull attempt failed", "watermark", watermark, "error", err)
			return retry.RetryableError(err)
		}
		if r.NoOfEvents < 0 {
			err := fmt.Errorf("malformed pull response for watermark %d", watermark)
			p.logger.Warn("pull attempt failed", "watermark", watermark, "error", err)
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// applyPage writes one fetched page and its watermark in a single
// transaction, then hands the applied version range to registered
// processors. Returns the record count applied.
func (p *PullEngine) applyPage(ctx context.Context, resp *types.PullResponse) (int, error) {
	minVersion, maxVersion, err := versionBounds(resp.Events)
	if err != nil {
		return 0, err
	}

	// A full page may share its highest version with records the server has
	// not sent yet, so the watermark stops one short. A partial page is the
	// end of the feed and the watermark can take the full value.
	watermark := maxVersion
	if resp.NoOfEvents >= p.limit {
		watermark = maxVersion - 1
	}

	batch := types.RecordBatch{Clients: resp.Clients, Events: resp.Events}
	if err := p.store.ApplyPullBatch(ctx, batch, watermark); err != nil {
		return 0, err
	}

	if p.processors != nil {
		applied, err := p.store.EventClientsByVersionRange(ctx, minVersion-1, maxVersion)
		if err != nil {
			p.logger.Error("load applied range for processing", "error", err)
		} else {
			p.processors.Process(ctx, applied)
		}
	}

	metrics.RecordsPulled.Add(float64(resp.NoOfEvents))
	p.logger.Info("pull page applied",
		"events", len(resp.Events), "clients", len(resp.Clients), "watermark", watermark)
	return resp.NoOfEvents, nil
}

// versionBounds extracts the min and max serverVersion across a page's
// events. A page whose events all lack serverVersion is malformed.
func versionBounds(events []json.RawMessage) (int64, int64, error) {
	var minV, maxV int64
	found := false
	for _, raw := range events {
		var probe struct {
			ServerVersion int64 `json:"serverVersion"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.ServerVersion == 0 {
			continue
		}
		if !found || probe.ServerVersion < minV {
			minV = probe.ServerVersion
		}
		if !found || probe.ServerVersion > maxV {
			maxV = probe.ServerVersion
		}
		found = true
	}
	if !found {
		return 0, 0, errors.New("pull page carries no server versions")
	}
	return minV, maxV, nil
}

// complete records the cycle end and broadcasts the terminal status.
// Failure terminals never advance the last-check time.
func (p *PullEngine) complete(ctx context.Context, status types.FetchStatus, fetched int) error {
	if status != types.FetchedFailed && status != types.NoConnection {
		if err := p.store.SetLastCheckAt(ctx, time.Now()); err != nil {
			p.logger.Error("record sync completion time", "error", err)
		}
	}
	p.publish(StatusUpdate{Status: status, Terminal: true, Fetched: fetched})
	return nil
}

func (p *PullEngine) publish(update StatusUpdate) {
	if p.broadcaster != nil {
		p.broadcaster.Publish(update)
	}
}
