package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "relay/internal/errors"
	"relay/internal/logging"
	"relay/internal/store"
)

func newAssociationFixture() (*UpdateLocationAssociationHandler, *store.Memory) {
	memory := store.NewMemory()
	handler := NewUpdateLocationAssociationHandler(memory, memory, logging.Nop())
	return handler, memory
}

func TestAssociateThenClearRestoresCount(t *testing.T) {
	t.Parallel()

	handler, memory := newAssociationFixture()
	ctx := context.Background()
	sess := Session{TenantID: "t1", UserID: "u1"}

	contact, err := memory.Create(ctx, "t1", "contact", map[string]any{"name": "Ann"})
	require.NoError(t, err)

	before := memory.Counter("t1", locationCounter("loc1"))

	_, err = handler.Execute(ctx, sess, map[string]any{
		"entityType": "contact",
		"entityId":   contact.ID,
		"companyId":  "co1",
		"locationId": "loc1",
	})
	require.NoError(t, err)
	assert.Equal(t, before+1, memory.Counter("t1", locationCounter("loc1")))

	out, err := handler.Execute(ctx, sess, map[string]any{
		"entityType": "contact",
		"entityId":   contact.ID,
		"companyId":  "co1",
		"locationId": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, before, memory.Counter("t1", locationCounter("loc1")),
		"clearing the association must return the count to its prior value")
	assert.Equal(t, "loc1", out.(map[string]any)["previousLocationId"])

	after, err := memory.Get(ctx, "t1", "contact", contact.ID)
	require.NoError(t, err)
	_, set := after.Fields["locationId"]
	assert.False(t, set, "clearing removes the association field")
}

func TestAssociationMoveRebalancesCounts(t *testing.T) {
	t.Parallel()

	handler, memory := newAssociationFixture()
	ctx := context.Background()
	sess := Session{TenantID: "t1", UserID: "u1"}

	deal, err := memory.Create(ctx, "t1", "deal", map[string]any{"locationId": "loc1"})
	require.NoError(t, err)
	_, err = memory.IncrementCounter(ctx, "t1", locationCounter("loc1"), 1)
	require.NoError(t, err)

	_, err = handler.Execute(ctx, sess, map[string]any{
		"entityType": "deal",
		"entityId":   deal.ID,
		"companyId":  "co1",
		"locationId": "loc2",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), memory.Counter("t1", locationCounter("loc1")))
	assert.Equal(t, int64(1), memory.Counter("t1", locationCounter("loc2")))
}

func TestAssociationRepeatedSameLocationLeavesCountAlone(t *testing.T) {
	t.Parallel()

	handler, memory := newAssociationFixture()
	ctx := context.Background()
	sess := Session{TenantID: "t1", UserID: "u1"}

	contact, err := memory.Create(ctx, "t1", "contact", nil)
	require.NoError(t, err)

	args := map[string]any{
		"entityType": "contact",
		"entityId":   contact.ID,
		"companyId":  "co1",
		"locationId": "loc1",
	}
	_, err = handler.Execute(ctx, sess, args)
	require.NoError(t, err)
	_, err = handler.Execute(ctx, sess, args)
	require.NoError(t, err)

	assert.Equal(t, int64(1), memory.Counter("t1", locationCounter("loc1")))
}

func TestAssociationRejectsUnknownEntityType(t *testing.T) {
	t.Parallel()

	handler, _ := newAssociationFixture()
	sess := Session{TenantID: "t1", UserID: "u1"}

	_, err := handler.Execute(context.Background(), sess, map[string]any{
		"entityType": "invoice",
		"entityId":   "x1",
	})
	require.Error(t, err)
	assert.True(t, relayerrors.IsValidation(err))
}

func TestAssociationMissingEntityFails(t *testing.T) {
	t.Parallel()

	handler, _ := newAssociationFixture()
	sess := Session{TenantID: "t1", UserID: "u1"}

	_, err := handler.Execute(context.Background(), sess, map[string]any{
		"entityType": "contact",
		"entityId":   "does-not-exist",
		"locationId": "loc1",
	})
	require.Error(t, err)
}

// failingCounterStore breaks IncrementCounter to prove counter failures
// stay a secondary effect.
type failingCounterStore struct {
	store.RecordStore
}

func (s *failingCounterStore) IncrementCounter(ctx context.Context, tenantID, name string, delta int64) (int64, error) {
	return 0, errors.New("counter service down")
}

func TestAssociationCounterFailureNotPropagated(t *testing.T) {
	t.Parallel()

	memory := store.NewMemory()
	handler := NewUpdateLocationAssociationHandler(&failingCounterStore{RecordStore: memory}, memory, logging.Nop())
	ctx := context.Background()
	sess := Session{TenantID: "t1", UserID: "u1"}

	contact, err := memory.Create(ctx, "t1", "contact", nil)
	require.NoError(t, err)

	_, err = handler.Execute(ctx, sess, map[string]any{
		"entityType": "contact",
		"entityId":   contact.ID,
		"companyId":  "co1",
		"locationId": "loc1",
	})
	require.NoError(t, err, "a broken counter must not fail the association")

	after, err := memory.Get(ctx, "t1", "contact", contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "loc1", after.Fields["locationId"], "the association itself still lands")
}
