package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
)

// TimeoutStore implements storage.TimeoutStore using Redis. Entries are JSON
// blobs indexed by a sorted set scored by due time.
type TimeoutStore struct {
	client *Client
}

// NewTimeoutStore creates a new Redis-backed timeout store.
func NewTimeoutStore(client *Client) *TimeoutStore {
	return &TimeoutStore{client: client}
}

// Add stores a timeout.
func (s *TimeoutStore) Add(ctx context.Context, e *domain.TimeoutEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal timeout: %w", err)
	}

	ok, err := s.client.rdb.SetNX(ctx, s.client.timeoutKey(e.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set timeout: %w", err)
	}
	if !ok {
		return storage.ErrDuplicateTimeout
	}

	if err := s.client.rdb.ZAdd(ctx, s.client.timeoutIndexKey(), redis.Z{
		Score:  float64(e.Time.UnixMicro()),
		Member: e.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index timeout: %w", err)
	}
	return nil
}

// Peek returns the timeout or nil.
func (s *TimeoutStore) Peek(ctx context.Context, id string) (*domain.TimeoutEntry, error) {
	data, err := s.client.rdb.Get(ctx, s.client.timeoutKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timeout: %w", err)
	}

	var e domain.TimeoutEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timeout: %w", err)
	}
	return &e, nil
}

// TryRemove removes the timeout. Only the caller whose ZREM removed the index
// entry wins.
func (s *TimeoutStore) TryRemove(ctx context.Context, id string) (bool, error) {
	n, err := s.client.rdb.ZRem(ctx, s.client.timeoutIndexKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove timeout from index: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := s.client.rdb.Del(ctx, s.client.timeoutKey(id)).Err(); err != nil {
		return true, fmt.Errorf("failed to delete timeout: %w", err)
	}
	return true, nil
}

// GetDue returns due timeouts, oldest first.
func (s *TimeoutStore) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.rdb.ZRangeByScore(ctx, s.client.timeoutIndexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMicro(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	out := make([]*domain.TimeoutEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Peek(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// blob gone but id still indexed, drop it
			s.client.rdb.ZRem(ctx, s.client.timeoutIndexKey(), id)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of stored timeouts.
func (s *TimeoutStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.rdb.ZCard(ctx, s.client.timeoutIndexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// Health implements storage.HealthChecker.
func (s *TimeoutStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}
