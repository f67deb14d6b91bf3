package tools

import (
	"context"
	"strings"
	"time"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

const (
	maxTitleLen = 500

	taskTypeTodo        = "todo"
	taskTypeAppointment = "appointment"
)

// CreateTaskHandler persists a new task or appointment record.
type CreateTaskHandler struct {
	records   store.RecordStore
	directory store.Directory
	audit     store.AuditSink
	logger    logging.Logger
	now       func() time.Time
}

// NewCreateTaskHandler builds the create_task handler.
func NewCreateTaskHandler(records store.RecordStore, directory store.Directory, audit store.AuditSink, logger logging.Logger) *CreateTaskHandler {
	return &CreateTaskHandler{
		records:   records,
		directory: directory,
		audit:     audit,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

func (h *CreateTaskHandler) Name() string   { return "create_task" }
func (h *CreateTaskHandler) Mutating() bool { return true }

func (h *CreateTaskHandler) Execute(ctx context.Context, sess Session, args map[string]any) (any, error) {
	if err := checkTenant(sess, args); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return nil, relayerrors.NewValidation("title", "a non-empty title is required")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}

	taskType := stringArg(args, "type")
	if taskType == "" {
		taskType = taskTypeTodo
	}
	if taskType != taskTypeTodo && taskType != taskTypeAppointment {
		return nil, relayerrors.NewValidation("type", "must be %q or %q", taskTypeTodo, taskTypeAppointment)
	}

	priority := stringArg(args, "priority")
	if priority == "" {
		priority = "medium"
	}
	status := stringArg(args, "status")
	if status == "" {
		status = "upcoming"
	}

	fields := map[string]any{
		"title":    title,
		"type":     taskType,
		"priority": priority,
		"status":   status,
	}

	// Only appointments carry scheduling fields. endTime is derived from
	// start + duration; any parse failure leaves it unset rather than
	// failing the whole action.
	if taskType == taskTypeAppointment {
		if start := stringArg(args, "startTime"); start != "" {
			fields["startTime"] = start
			if endTime, ok := deriveEndTime(start, args["durationMinutes"]); ok {
				fields["endTime"] = endTime
			} else {
				h.logger.Debug("could not derive endTime from start=%q duration=%v", start, args["durationMinutes"])
			}
		}
		if duration, ok := numberArg(args, "durationMinutes"); ok {
			fields["durationMinutes"] = duration
		}
	}

	if assoc, ok := args["associations"].(map[string]any); ok && len(assoc) > 0 {
		fields["associations"] = assoc
	}

	// Best-effort denormalization: a directory outage must never fail task
	// creation.
	ownerName := "Unassigned"
	if name, err := h.directory.DisplayName(ctx, sess.TenantID, sess.UserID); err != nil {
		h.logger.Warn("discarding secondary failure: %v",
			&relayerrors.SecondaryEffectError{Effect: "owner lookup", Err: err})
	} else {
		ownerName = name
	}
	fields["ownerId"] = sess.UserID
	fields["ownerName"] = ownerName

	rec, err := h.records.Create(ctx, sess.TenantID, "task", fields)
	if err != nil {
		return nil, err
	}

	emitAudit(ctx, h.audit, h.logger, store.AuditEvent{
		TenantID: sess.TenantID,
		UserID:   sess.UserID,
		Action:   "task.created",
		Detail:   map[string]any{"taskId": rec.ID, "type": taskType},
	})

	return map[string]any{
		"taskId":   rec.ID,
		"title":    title,
		"type":     taskType,
		"priority": priority,
		"status":   status,
		"owner":    ownerName,
	}, nil
}

// deriveEndTime computes start + duration. Returns false on any parse
// failure so the caller can leave endTime unset.
func deriveEndTime(start string, duration any) (string, bool) {
	startTime, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return "", false
	}
	minutes, ok := toFloat(duration)
	if !ok || minutes <= 0 {
		return "", false
	}
	end := startTime.Add(time.Duration(minutes) * time.Minute)
	return end.Format(time.RFC3339), true
}
