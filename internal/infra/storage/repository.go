package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
)

var (
	// ErrDuplicateTimeout is returned when a timeout with the same id is already stored
	ErrDuplicateTimeout = errors.New("timeout already stored")
)

// TimeoutStore persists messages held by the timeout relay until they are due.
type TimeoutStore interface {
	// Add stores a timeout
	Add(ctx context.Context, entry *domain.TimeoutEntry) error

	// Peek returns the timeout with the given id, or nil when it does not exist
	Peek(ctx context.Context, id string) (*domain.TimeoutEntry, error)

	// TryRemove deletes the timeout. False means another worker removed it first.
	TryRemove(ctx context.Context, id string) (bool, error)

	// GetDue returns up to limit timeouts whose time is at or before now, oldest first
	GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error)

	// Count returns the number of stored timeouts
	Count(ctx context.Context) (int, error)
}

// HealthChecker is implemented by stores with a remote backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}
