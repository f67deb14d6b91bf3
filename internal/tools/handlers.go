package tools

import (
	"context"
	"encoding/json"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

// checkTenant enforces the tenant-scope invariant inside a handler. Router
// validation is not enough: handlers may be invoked from other entry points.
func checkTenant(sess Session, args map[string]any) error {
	argTenant := stringArg(args, "tenantId")
	if argTenant != "" && argTenant != sess.TenantID {
		return &relayerrors.TenantMismatchError{Got: argTenant, Want: sess.TenantID}
	}
	return nil
}

// emitAudit is the one layer where audit failures are deliberately
// logged-and-discarded. Audit is never on the critical path.
func emitAudit(ctx context.Context, sink store.AuditSink, logger logging.Logger, event store.AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("discarding secondary failure: %v",
			&relayerrors.SecondaryEffectError{Effect: "audit emission", Err: err})
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numberArg(args map[string]any, key string) (float64, bool) {
	return toFloat(args[key])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
