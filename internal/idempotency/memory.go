package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// dev server; production deployments use RedisStore so duplicate requests
// landing on different instances share one claim space.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock, for TTL tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration, retryFailed bool) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if ok && !rec.Expired(now) {
		switch rec.Status {
		case StatusDone:
			return Claim{State: StateReplay, Result: rec.Result}, nil
		case StatusInProgress:
			return Claim{State: StateContended}, nil
		case StatusFailed:
			if !retryFailed {
				return Claim{State: StateReplay, Error: rec.Error}, nil
			}
		}
	}

	s.records[key] = &Record{
		Key:       key,
		Status:    StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return Claim{State: StateClaimed}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.Status = StatusDone
		rec.Result = result
	}
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, key string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		rec.Status = StatusFailed
		rec.Error = msg
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}
