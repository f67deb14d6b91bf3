package tools

import (
	"context"
	"fmt"
	"strings"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

// maxRelatedRecords bounds the fetch behind draft and summarize so latency
// and token cost stay predictable.
const maxRelatedRecords = 5

// DraftEmailHandler composes an email draft grounded on the most recent
// related messages. Read-mostly: it never sends and skips the coordinator.
type DraftEmailHandler struct {
	records store.RecordStore
	logger  logging.Logger
}

// NewDraftEmailHandler builds the draft_email handler.
func NewDraftEmailHandler(records store.RecordStore, logger logging.Logger) *DraftEmailHandler {
	return &DraftEmailHandler{records: records, logger: logging.OrNop(logger)}
}

func (h *DraftEmailHandler) Name() string   { return "draft_email" }
func (h *DraftEmailHandler) Mutating() bool { return false }

func (h *DraftEmailHandler) Execute(ctx context.Context, sess Session, args map[string]any) (any, error) {
	if err := checkTenant(sess, args); err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(stringArg(args, "recipient"))
	if recipient == "" {
		return nil, relayerrors.NewValidation("recipient", "a recipient is required")
	}
	topic := strings.TrimSpace(stringArg(args, "topic"))
	if topic == "" {
		topic = "our recent conversation"
	}

	recent, err := h.records.FetchRecent(ctx, sess.TenantID, sess.UserID, "email", maxRelatedRecords)
	if err != nil {
		h.logger.Warn("drafting without history: %v", err)
		recent = nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nFollowing up on %s.", recipient, topic)
	if len(recent) > 0 {
		b.WriteString(" For reference, our recent thread covered:\n")
		for _, rec := range recent {
			if subject, ok := rec.Fields["subject"].(string); ok && subject != "" {
				fmt.Fprintf(&b, "- %s\n", subject)
			}
		}
	}
	b.WriteString("\nBest regards")

	return map[string]any{
		"recipient": recipient,
		"subject":   "Re: " + topic,
		"body":      b.String(),
	}, nil
}

// SummarizeEmailThreadHandler summarizes the most recent messages of a
// thread. Read-only.
type SummarizeEmailThreadHandler struct {
	records store.RecordStore
	logger  logging.Logger
}

// NewSummarizeEmailThreadHandler builds the summarize_email_thread handler.
func NewSummarizeEmailThreadHandler(records store.RecordStore, logger logging.Logger) *SummarizeEmailThreadHandler {
	return &SummarizeEmailThreadHandler{records: records, logger: logging.OrNop(logger)}
}

func (h *SummarizeEmailThreadHandler) Name() string   { return "summarize_email_thread" }
func (h *SummarizeEmailThreadHandler) Mutating() bool { return false }

func (h *SummarizeEmailThreadHandler) Execute(ctx context.Context, sess Session, args map[string]any) (any, error) {
	if err := checkTenant(sess, args); err != nil {
		return nil, err
	}

	threadID := stringArg(args, "threadId")
	if threadID == "" {
		return nil, relayerrors.NewValidation("threadId", "a thread id is required")
	}

	recent, err := h.records.FetchRecent(ctx, sess.TenantID, sess.UserID, "email", maxRelatedRecords)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, rec := range recent {
		if rec.Fields["threadId"] != threadID {
			continue
		}
		sender := stringArg(rec.Fields, "from")
		subject := stringArg(rec.Fields, "subject")
		preview := stringArg(rec.Fields, "body")
		if len(preview) > 120 {
			preview = preview[:120] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", sender, subject, preview))
	}
	if len(lines) == 0 {
		return map[string]any{
			"threadId": threadID,
			"summary":  "No messages found in this thread.",
		}, nil
	}

	return map[string]any{
		"threadId":     threadID,
		"messageCount": len(lines),
		"summary":      strings.Join(lines, "\n"),
	}, nil
}
