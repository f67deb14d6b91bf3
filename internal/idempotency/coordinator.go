package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
)

// Operation is the side-effecting work the coordinator guards. Its result is
// persisted verbatim for replay, so it must be JSON-serializable.
type Operation func(ctx context.Context) (any, error)

// Options tune a Coordinator. Zero values fall back to the reference
// protocol: 250ms polls, 10 attempts (~2.5s ceiling), 60s TTL.
type Options struct {
	DefaultTTL   time.Duration
	PollInterval time.Duration
	PollAttempts int

	// RetryFailedImmediately lets a Failed record be reclaimed before its
	// TTL elapses. Off by default: a failed operation waits out the same
	// TTL as a successful one, and deployments that want faster failure
	// retry tune this rather than getting a silently shortened window.
	RetryFailedImmediately bool
}

// Coordinator guarantees at-most-once execution of logical operations across
// concurrent and retried calls sharing a fingerprint.
type Coordinator struct {
	store  Store
	opts   Options
	logger logging.Logger
}

// NewCoordinator builds a Coordinator on the given store.
func NewCoordinator(store Store, opts Options, logger logging.Logger) *Coordinator {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 10
	}
	return &Coordinator{
		store:  store,
		opts:   opts,
		logger: logging.OrNop(logger),
	}
}

// Execute runs op at most once per (operation, input) fingerprint.
//
// The winner of the atomic claim runs op and records the outcome. Losers
// replay a terminal record, or poll for one until the wait ceiling and then
// receive StillInProgressError. Store failures are fatal: correctness is
// preferred over availability, so there is no silent bypass.
func (c *Coordinator) Execute(ctx context.Context, operation string, input any, ttl time.Duration, op Operation) (json.RawMessage, error) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	key, err := Key(operation, input)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", operation, err)
	}

	claim, err := c.store.Claim(ctx, key, ttl, c.opts.RetryFailedImmediately)
	if err != nil {
		return nil, fmt.Errorf("idempotency claim: %w", err)
	}

	switch claim.State {
	case StateReplay:
		if claim.Error != "" {
			c.logger.Debug("replaying failed outcome for %s key=%s", operation, key)
			return nil, fmt.Errorf("%s previously failed: %s", operation, claim.Error)
		}
		c.logger.Debug("replaying result for %s key=%s", operation, key)
		return claim.Result, nil

	case StateContended:
		c.logger.Debug("claim contended for %s key=%s, entering wait", operation, key)
		return c.await(ctx, operation, key)
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if failErr := c.store.Fail(ctx, key, opErr.Error()); failErr != nil {
			c.logger.Error("record failure for %s key=%s: %v", operation, key, failErr)
		}
		return nil, opErr
	}

	raw, err := json.Marshal(result)
	if err != nil {
		// The effect already happened; record the encoding failure so
		// duplicates do not re-execute it.
		msg := fmt.Sprintf("result not serializable: %v", err)
		if failErr := c.store.Fail(ctx, key, msg); failErr != nil {
			c.logger.Error("record failure for %s key=%s: %v", operation, key, failErr)
		}
		return nil, fmt.Errorf("marshal result of %s: %w", operation, err)
	}

	if err := c.store.Complete(ctx, key, raw); err != nil {
		c.logger.Error("record completion for %s key=%s: %v", operation, key, err)
	}
	return raw, nil
}

// await polls for the in-flight winner to reach a terminal state. Bounded:
// it never blocks past PollInterval*PollAttempts and never runs the
// operation itself.
func (c *Coordinator) await(ctx context.Context, operation, key string) (json.RawMessage, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		rec, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("poll idempotency record: %w", err)
		}
		if rec == nil {
			continue
		}
		switch rec.Status {
		case StatusDone:
			return rec.Result, nil
		case StatusFailed:
			return nil, fmt.Errorf("%s previously failed: %s", operation, rec.Error)
		}
	}

	return nil, &relayerrors.StillInProgressError{
		Key:        key,
		RetryAfter: c.opts.PollInterval,
	}
}
