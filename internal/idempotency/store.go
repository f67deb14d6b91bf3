package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Status describes where an idempotency record is in its lifecycle.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Record is the durable state kept per idempotency key.
type Record struct {
	Key       string          `json:"key"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Expired reports whether the record is eligible for a fresh claim.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ClaimState is the three-way outcome of an atomic claim attempt.
type ClaimState int

const (
	// StateClaimed means the caller won the claim and must run the operation.
	StateClaimed ClaimState = iota
	// StateReplay means a terminal record exists; Result or Error replays it.
	StateReplay
	// StateContended means another caller holds an unexpired in-progress
	// claim; the caller must enter the wait protocol.
	StateContended
)

// Claim is the result of Store.Claim. For StateReplay exactly one of Result
// and Error is set, mirroring the terminal record.
type Claim struct {
	State  ClaimState
	Result json.RawMessage
	Error  string
}

// Store is the key-value contract the coordinator requires: atomic
// read-modify-write claims and TTL expiry. Store unavailability must surface
// as an error; the coordinator never bypasses the idempotency guarantee.
type Store interface {
	// Claim atomically inspects the record for key and either acquires the
	// right to execute (writing an in-progress record with the given TTL),
	// replays a terminal record, or reports contention. The read-then-write
	// decision has no lost-update window.
	//
	// retryFailed controls whether an unexpired Failed record is reclaimed
	// immediately instead of being replayed until its TTL elapses.
	Claim(ctx context.Context, key string, ttl time.Duration, retryFailed bool) (Claim, error)

	// Complete marks the record Done with the operation's result.
	Complete(ctx context.Context, key string, result json.RawMessage) error

	// Fail marks the record Failed with the operation's error message.
	Fail(ctx context.Context, key string, msg string) error

	// Get returns the current record, or nil when absent or expired.
	Get(ctx context.Context, key string) (*Record, error)
}
