package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process RecordStore, AuditSink, and Directory used by
// tests and the dev server.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*Record // key: tenant/kind/id
	byTenant map[string][]*Record
	counters map[string]int64 // key: tenant/counter
	names    map[string]string
	events   []AuditEvent
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*Record),
		byTenant: make(map[string][]*Record),
		counters: make(map[string]int64),
		names:    make(map[string]string),
		now:      time.Now,
	}
}

func recordKey(tenantID, kind, id string) string {
	return tenantID + "/" + kind + "/" + id
}

func (m *Memory) Create(_ context.Context, tenantID, kind string, fields map[string]any) (*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &Record{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      kind,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records[recordKey(tenantID, kind, rec.ID)] = rec
	m.byTenant[tenantID] = append(m.byTenant[tenantID], rec)
	return copyRecord(rec), nil
}

func (m *Memory) Get(_ context.Context, tenantID, kind, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey(tenantID, kind, id)]
	if !ok {
		return nil, fmt.Errorf("%s %s not found in tenant %s", kind, id, tenantID)
	}
	return copyRecord(rec), nil
}

func (m *Memory) Update(_ context.Context, tenantID, kind, id string, fields map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(tenantID, kind, id)]
	if !ok {
		return nil, fmt.Errorf("%s %s not found in tenant %s", kind, id, tenantID)
	}
	for k, v := range fields {
		if v == nil {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = v
	}
	rec.UpdatedAt = m.now()
	return copyRecord(rec), nil
}

func (m *Memory) IncrementCounter(_ context.Context, tenantID, counter string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + counter
	m.counters[key] += delta
	return m.counters[key], nil
}

// Counter returns the current counter value, for tests.
func (m *Memory) Counter(tenantID, counter string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[tenantID+"/"+counter]
}

func (m *Memory) FetchRecent(_ context.Context, tenantID, _ string, kind string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Record
	for _, rec := range m.byTenant[tenantID] {
		if rec.Kind == kind {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]Record, 0, len(matched))
	for _, rec := range matched {
		out = append(out, *copyRecord(rec))
	}
	return out, nil
}

func (m *Memory) Record(_ context.Context, event AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns recorded audit events, for tests.
func (m *Memory) Events() []AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// SetDisplayName seeds the directory.
func (m *Memory) SetDisplayName(tenantID, userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[tenantID+"/"+userID] = name
}

func (m *Memory) DisplayName(_ context.Context, tenantID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[tenantID+"/"+userID]
	if !ok {
		return "", fmt.Errorf("user %s not found in tenant %s", userID, tenantID)
	}
	return name, nil
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func copyRecord(rec *Record) *Record {
	copied := *rec
	copied.Fields = cloneFields(rec.Fields)
	return &copied
}
