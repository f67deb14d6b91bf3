package tools

import (
	"context"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

var associableEntityTypes = map[string]bool{
	"contact":     true,
	"deal":        true,
	"salesperson": true,
}

// UpdateLocationAssociationHandler re-points an entity's location
// association and maintains per-location association counts as a
// best-effort secondary effect.
type UpdateLocationAssociationHandler struct {
	records store.RecordStore
	audit   store.AuditSink
	logger  logging.Logger
}

// NewUpdateLocationAssociationHandler builds the update_location_association handler.
func NewUpdateLocationAssociationHandler(records store.RecordStore, audit store.AuditSink, logger logging.Logger) *UpdateLocationAssociationHandler {
	return &UpdateLocationAssociationHandler{
		records: records,
		audit:   audit,
		logger:  logging.OrNop(logger),
	}
}

func (h *UpdateLocationAssociationHandler) Name() string   { return "update_location_association" }
func (h *UpdateLocationAssociationHandler) Mutating() bool { return true }

func (h *UpdateLocationAssociationHandler) Execute(ctx context.Context, sess Session, args map[string]any) (any, error) {
	if err := checkTenant(sess, args); err != nil {
		return nil, err
	}

	entityType := stringArg(args, "entityType")
	if !associableEntityTypes[entityType] {
		return nil, relayerrors.NewValidation("entityType", "unknown entity type %q", entityType)
	}
	entityID := stringArg(args, "entityId")
	if entityID == "" {
		return nil, relayerrors.NewValidation("entityId", "entity id is required")
	}
	companyID := stringArg(args, "companyId")
	newLocation := stringArg(args, "locationId") // empty means clearing

	current, err := h.records.Get(ctx, sess.TenantID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	prevLocation := ""
	if v, ok := current.Fields["locationId"].(string); ok {
		prevLocation = v
	}

	// Primary effect: the association itself. locationId=nil clears it.
	update := map[string]any{"companyId": companyID}
	if newLocation == "" {
		update["locationId"] = nil
	} else {
		update["locationId"] = newLocation
	}
	if _, err := h.records.Update(ctx, sess.TenantID, entityType, entityID, update); err != nil {
		return nil, err
	}

	// Secondary effect: location association counts. Deliberately not
	// atomic with the primary update; failures are logged, never
	// propagated, and never roll the association back.
	if prevLocation != "" && prevLocation != newLocation {
		h.bumpCount(ctx, sess.TenantID, prevLocation, -1)
	}
	if newLocation != "" && newLocation != prevLocation {
		h.bumpCount(ctx, sess.TenantID, newLocation, +1)
	}

	emitAudit(ctx, h.audit, h.logger, store.AuditEvent{
		TenantID: sess.TenantID,
		UserID:   sess.UserID,
		Action:   "association.updated",
		Detail: map[string]any{
			"entityType": entityType,
			"entityId":   entityID,
			"locationId": newLocation,
		},
	})

	result := map[string]any{
		"entityType":         entityType,
		"entityId":           entityID,
		"companyId":          companyID,
		"previousLocationId": prevLocation,
	}
	if newLocation != "" {
		result["locationId"] = newLocation
	}
	return result, nil
}

func (h *UpdateLocationAssociationHandler) bumpCount(ctx context.Context, tenantID, locationID string, delta int64) {
	if _, err := h.records.IncrementCounter(ctx, tenantID, locationCounter(locationID), delta); err != nil {
		h.logger.Warn("discarding secondary failure: %v",
			&relayerrors.SecondaryEffectError{Effect: "location count update", Err: err})
	}
}

func locationCounter(locationID string) string {
	return "location:" + locationID + ":associations"
}
