package tools

import (
	"context"
	"encoding/json"
)

// Session identifies the authenticated caller a batch of tool calls runs as.
type Session struct {
	TenantID string
	UserID   string
}

// Handler executes one action variant. Implementations are narrow
// orchestrations: validate, derive, persist the primary effect, emit
// best-effort audit. Every handler re-checks the tenant-scope invariant
// itself because handlers may be invoked from multiple entry points.
type Handler interface {
	// Name is the action name the provider calls the tool by.
	Name() string

	// Mutating reports whether the handler has external side effects that
	// must not duplicate. Mutating handlers are wrapped in the idempotency
	// coordinator by the router; read-only handlers are not.
	Mutating() bool

	// Execute runs the action. Args have already passed schema validation.
	Execute(ctx context.Context, sess Session, args map[string]any) (any, error)
}

// ActionResult is the per-call outcome reported to the caller. A failing
// call carries Error/ErrorCode and never suppresses sibling results.
type ActionResult struct {
	Tool      string          `json:"tool"`
	CallID    string          `json:"callId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
}

// OK reports whether the action succeeded.
func (r ActionResult) OK() bool {
	return r.Error == ""
}
