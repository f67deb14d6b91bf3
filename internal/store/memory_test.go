package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateGetUpdate(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	created, err := m.Create(ctx, "t1", "task", map[string]any{"title": "call client"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := m.Get(ctx, "t1", "task", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "call client", got.Fields["title"])

	updated, err := m.Update(ctx, "t1", "task", created.ID, map[string]any{"status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", updated.Fields["status"])
	assert.Equal(t, "call client", updated.Fields["title"])

	// nil value clears a field
	updated, err = m.Update(ctx, "t1", "task", created.ID, map[string]any{"status": nil})
	require.NoError(t, err)
	_, present := updated.Fields["status"]
	assert.False(t, present)
}

func TestMemoryTenantScoping(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	created, err := m.Create(ctx, "t1", "task", map[string]any{"title": "x"})
	require.NoError(t, err)

	_, err = m.Get(ctx, "t2", "task", created.ID)
	assert.Error(t, err, "records must not be visible across tenants")
}

func TestMemoryCounters(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	n, err := m.IncrementCounter(ctx, "t1", "location:loc1:associations", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.IncrementCounter(ctx, "t1", "location:loc1:associations", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Counters are tenant-scoped too.
	assert.Equal(t, int64(0), m.Counter("t2", "location:loc1:associations"))
}

func TestMemoryFetchRecentOrderAndLimit(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	base := time.Now()
	i := 0
	m.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	ctx := context.Background()
	for n := 0; n < 8; n++ {
		_, err := m.Create(ctx, "t1", "email", map[string]any{"subject": fmt.Sprintf("s%d", n)})
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, "t1", "task", map[string]any{"title": "other kind"})
	require.NoError(t, err)

	recent, err := m.FetchRecent(ctx, "t1", "u1", "email", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "s7", recent[0].Fields["subject"], "newest first")
	assert.Equal(t, "s3", recent[4].Fields["subject"])
}

func TestMemoryAuditAndDirectory(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, AuditEvent{TenantID: "t1", UserID: "u1", Action: "task.created"}))
	events := m.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())

	_, err := m.DisplayName(ctx, "t1", "u1")
	assert.Error(t, err)

	m.SetDisplayName("t1", "u1", "Dana")
	name, err := m.DisplayName(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", name)
}
