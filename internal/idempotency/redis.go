package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "relay:idem:"

	// txRetries bounds optimistic-lock retries when a concurrent writer
	// touches the same key between WATCH and EXEC.
	txRetries = 3
)

// RedisStore implements Store on a shared Redis instance. The claim decision
// runs inside a WATCH/MULTI transaction so the read-then-write sequence is
// atomic; Redis key TTL doubles as record expiry cleanup while the embedded
// ExpiresAt field keeps expiry semantics identical to MemoryStore.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration, retryFailed bool) (Claim, error) {
	var outcome Claim

	claim := func(tx *redis.Tx) error {
		now := s.now()
		raw, err := tx.Get(ctx, redisKey(key)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read idempotency record: %w", err)
		}

		if err == nil {
			var rec Record
			if unmarshalErr := json.Unmarshal(raw, &rec); unmarshalErr != nil {
				return fmt.Errorf("decode idempotency record: %w", unmarshalErr)
			}
			if !rec.Expired(now) {
				switch rec.Status {
				case StatusDone:
					outcome = Claim{State: StateReplay, Result: rec.Result}
					return nil
				case StatusInProgress:
					outcome = Claim{State: StateContended}
					return nil
				case StatusFailed:
					if !retryFailed {
						outcome = Claim{State: StateReplay, Error: rec.Error}
						return nil
					}
				}
			}
		}

		rec := Record{
			Key:       key,
			Status:    StatusInProgress,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(key), data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		outcome = Claim{State: StateClaimed}
		return nil
	}

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.client.Watch(ctx, claim, redisKey(key))
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return Claim{}, fmt.Errorf("claim %s: %w", key, err)
}

// update rewrites the record's terminal state while preserving its remaining
// TTL so terminal records stay replayable until the original deadline.
func (s *RedisStore) update(ctx context.Context, key string, mutate func(*Record)) error {
	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Record already expired; nothing to update.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read idempotency record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode idempotency record: %w", err)
		}
		mutate(&rec)

		remaining := time.Until(rec.ExpiresAt)
		if remaining <= 0 {
			return nil
		}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(key), data, remaining)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.client.Watch(ctx, apply, redisKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return fmt.Errorf("update %s: %w", key, err)
}

func (s *RedisStore) Complete(ctx context.Context, key string, result json.RawMessage) error {
	return s.update(ctx, key, func(rec *Record) {
		rec.Status = StatusDone
		rec.Result = result
		rec.Error = ""
	})
}

func (s *RedisStore) Fail(ctx context.Context, key string, msg string) error {
	return s.update(ctx, key, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Error = msg
		rec.Result = nil
	})
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}
