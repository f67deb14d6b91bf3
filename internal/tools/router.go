package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	relayerrors "relay/internal/errors"
	"relay/internal/idempotency"
	"relay/internal/llm"
	"relay/internal/logging"
)

// DefaultMaxCallsPerTurn caps the blast radius of a single model turn.
const DefaultMaxCallsPerTurn = 3

// Router validates and dispatches the tool calls of one model turn.
// Stateless per call; all cross-request coordination lives in the
// idempotency coordinator.
type Router struct {
	registry    *Registry
	coordinator *idempotency.Coordinator
	logger      logging.Logger
	tracer      trace.Tracer

	maxCalls int
	ttl      time.Duration
}

// NewRouter builds a Router. ttl is the idempotency window for mutating
// actions; maxCalls <= 0 falls back to DefaultMaxCallsPerTurn.
func NewRouter(registry *Registry, coordinator *idempotency.Coordinator, maxCalls int, ttl time.Duration, logger logging.Logger) *Router {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCallsPerTurn
	}
	return &Router{
		registry:    registry,
		coordinator: coordinator,
		logger:      logging.OrNop(logger),
		tracer:      otel.Tracer("relay/tools"),
		maxCalls:    maxCalls,
		ttl:         ttl,
	}
}

// Dispatch processes each call independently and returns one ActionResult
// per dispatched call. A failing call never aborts its siblings; an
// unrecognized action name is skipped for forward compatibility with
// providers proposing unknown tools.
func (r *Router) Dispatch(ctx context.Context, sess Session, calls []llm.ToolCall) []ActionResult {
	if len(calls) > r.maxCalls {
		r.logger.Warn("model turn proposed %d tool calls, dispatching first %d", len(calls), r.maxCalls)
		calls = calls[:r.maxCalls]
	}

	var results []ActionResult
	for _, call := range calls {
		reg, ok := r.registry.Get(call.Name)
		if !ok {
			r.logger.Info("ignoring unrecognized tool %q", call.Name)
			continue
		}
		results = append(results, r.dispatchOne(ctx, sess, reg, call))
	}
	return results
}

func (r *Router) dispatchOne(ctx context.Context, sess Session, reg *Registration, call llm.ToolCall) ActionResult {
	ctx, span := r.tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tenant.id", sess.TenantID),
		))
	defer span.End()

	result := ActionResult{Tool: call.Name, CallID: call.ID}

	args, err := r.parseArgs(call.Arguments)
	if err != nil {
		return fail(result, relayerrors.NewValidation("arguments", "malformed JSON: %v", err))
	}
	if err := reg.Schema.Validate(anyMap(args)); err != nil {
		return fail(result, relayerrors.NewValidation("arguments", "schema violation: %v", err))
	}

	// Tenant-scope invariant, enforced here and again inside every handler.
	if argTenant, ok := args["tenantId"].(string); ok && argTenant != sess.TenantID {
		return fail(result, &relayerrors.TenantMismatchError{Got: argTenant, Want: sess.TenantID})
	}

	var raw json.RawMessage
	if reg.Handler.Mutating() {
		// Logical input is the full argument set plus actor identity, so
		// identical retries fingerprint identically while different actors
		// or arguments never collide.
		logical := map[string]any{
			"args":     args,
			"tenantId": sess.TenantID,
			"userId":   sess.UserID,
		}
		raw, err = r.coordinator.Execute(ctx, call.Name+".v1", logical, r.ttl, func(ctx context.Context) (any, error) {
			return reg.Handler.Execute(ctx, sess, args)
		})
	} else {
		var out any
		out, err = reg.Handler.Execute(ctx, sess, args)
		if err == nil {
			raw, err = json.Marshal(out)
		}
	}
	if err != nil {
		return fail(result, err)
	}

	result.Result = raw
	return result
}

// parseArgs decodes the model-produced argument JSON, attempting one repair
// pass for the truncated or mis-quoted output models occasionally emit.
func (r *Router) parseArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return nil, err
		}
		r.logger.Debug("repaired malformed tool arguments (%d -> %d bytes)", len(raw), len(repaired))
	}
	return args, nil
}

// anyMap re-types for the schema validator, which expects decoded JSON.
func anyMap(m map[string]any) any {
	return map[string]any(m)
}

func fail(result ActionResult, err error) ActionResult {
	result.Error = err.Error()
	result.ErrorCode = relayerrors.Code(err)
	return result
}
