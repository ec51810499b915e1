package recovery

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vietddude/redeliver/internal/metrics"
)

// FailureInfo is the failure record of one message identity.
type FailureInfo struct {
	Attempts int
	LastErr  error
}

// FailureInfoCache tracks consecutive failures per message on channels that
// cannot retry in place. It is bounded; evicting a failing identity resets its
// count.
type FailureInfoCache struct {
	channel string

	mu    sync.Mutex
	cache *lru.Cache[string, FailureInfo]
}

// NewFailureInfoCache creates a cache holding at most capacity identities.
func NewFailureInfoCache(channel string, capacity int) (*FailureInfoCache, error) {
	if capacity <= 0 {
		capacity = DefaultFailureCacheCapacity
	}
	c := &FailureInfoCache{channel: channel}
	cache, err := lru.NewWithEvict[string, FailureInfo](capacity, func(string, FailureInfo) {
		metrics.FailureCacheSize.WithLabelValues(channel).Dec()
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// RecordFailure increments the attempt count of messageID.
func (c *FailureInfoCache) RecordFailure(messageID string, err error) FailureInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.cache.Get(messageID)
	if !ok {
		metrics.FailureCacheSize.WithLabelValues(c.channel).Inc()
	}
	info.Attempts++
	info.LastErr = err
	c.cache.Add(messageID, info)
	return info
}

// GetFailureInfo returns the record of messageID. Unseen identities have zero attempts.
func (c *FailureInfoCache) GetFailureInfo(messageID string) FailureInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, _ := c.cache.Peek(messageID)
	return info
}

// ClearFailure forgets messageID.
func (c *FailureInfoCache) ClearFailure(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(messageID)
}

// Len returns the number of tracked identities.
func (c *FailureInfoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
