package store

import (
	"context"
	"time"
)

// Record is a tenant-scoped business record. Fields carry the
// variant-specific payload; timestamps are server-assigned.
type Record struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Kind      string         `json:"kind"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RecordStore is the create/read/update contract action handlers persist
// primary effects through. All operations are tenant-scoped; counters
// support atomic increments for best-effort bookkeeping.
type RecordStore interface {
	Create(ctx context.Context, tenantID, kind string, fields map[string]any) (*Record, error)
	Get(ctx context.Context, tenantID, kind, id string) (*Record, error)
	Update(ctx context.Context, tenantID, kind, id string, fields map[string]any) (*Record, error)

	// IncrementCounter atomically adds delta to the named tenant counter and
	// returns the new value.
	IncrementCounter(ctx context.Context, tenantID, counter string, delta int64) (int64, error)

	// FetchRecent returns up to limit records of kind, newest first.
	FetchRecent(ctx context.Context, tenantID, userID, kind string, limit int) ([]Record, error)
}

// AuditEvent describes one action taken on behalf of a user.
type AuditEvent struct {
	TenantID  string         `json:"tenantId"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditSink receives fire-and-forget audit events. Errors are returned so
// the one layer that discards them can log what it is discarding; they must
// never fail the primary action.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Directory resolves user identities to display names for denormalization.
// Lookup failure must never fail a primary action.
type Directory interface {
	DisplayName(ctx context.Context, tenantID, userID string) (string, error)
}
