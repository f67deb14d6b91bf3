package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

func TestDraftEmailUsesRecentSubjects(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	ctx := context.Background()
	for _, subject := range []string{"Kickoff notes", "Q3 pricing"} {
		_, err := memory.Create(ctx, "t1", "email", map[string]any{"subject": subject})
		require.NoError(t, err)
	}

	handler := NewDraftEmailHandler(memory, logging.Nop())
	out, err := handler.Execute(ctx, Session{TenantID: "t1", UserID: "u1"}, map[string]any{
		"recipient": "ann@example.com",
		"topic":     "the renewal",
	})
	require.NoError(t, err)

	draft := out.(map[string]any)
	assert.Equal(t, "Re: the renewal", draft["subject"])
	body := draft["body"].(string)
	assert.Contains(t, body, "Kickoff notes")
	assert.Contains(t, body, "Q3 pricing")
}

func TestDraftEmailRequiresRecipient(t *testing.T) {
	t.Parallel()

	handler := NewDraftEmailHandler(store.NewMemory(), logging.Nop())
	_, err := handler.Execute(context.Background(), Session{TenantID: "t1", UserID: "u1"}, map[string]any{})
	require.Error(t, err)
	assert.True(t, relayerrors.IsValidation(err))
}

func TestDraftEmailSurvivesHistoryFailure(t *testing.T) {
	t.Parallel()

	handler := NewDraftEmailHandler(&failingFetchStore{RecordStore: store.NewMemory()}, logging.Nop())
	out, err := handler.Execute(context.Background(), Session{TenantID: "t1", UserID: "u1"}, map[string]any{
		"recipient": "ann@example.com",
	})
	require.NoError(t, err, "history is flavor, not a hard dependency")
	assert.NotEmpty(t, out.(map[string]any)["body"])
}

func TestSummarizeThreadFiltersByThread(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	ctx := context.Background()
	_, err := memory.Create(ctx, "t1", "email", map[string]any{
		"threadId": "th1", "from": "ann@x.com", "subject": "Hello", "body": "first note",
	})
	require.NoError(t, err)
	_, err = memory.Create(ctx, "t1", "email", map[string]any{
		"threadId": "th2", "from": "bob@x.com", "subject": "Other", "body": "unrelated",
	})
	require.NoError(t, err)

	handler := NewSummarizeEmailThreadHandler(memory, logging.Nop())
	out, err := handler.Execute(ctx, Session{TenantID: "t1", UserID: "u1"}, map[string]any{"threadId": "th1"})
	require.NoError(t, err)

	summary := out.(map[string]any)
	assert.Equal(t, 1, summary["messageCount"])
	text := summary["summary"].(string)
	assert.Contains(t, text, "Hello")
	assert.False(t, strings.Contains(text, "Other"))
}

func TestSummarizeThreadEmpty(t *testing.T) {
	t.Parallel()

	handler := NewSummarizeEmailThreadHandler(store.NewMemory(), logging.Nop())
	out, err := handler.Execute(context.Background(), Session{TenantID: "t1", UserID: "u1"}, map[string]any{"threadId": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "No messages found in this thread.", out.(map[string]any)["summary"])
}

type failingFetchStore struct {
	store.RecordStore
}

func (s *failingFetchStore) FetchRecent(ctx context.Context, tenantID, userID, kind string, limit int) ([]store.Record, error) {
	return nil, context.DeadlineExceeded
}
