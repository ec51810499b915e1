package recovery

import (
	"github.com/vietddude/redeliver/internal/core/domain"
)

const (
	DefaultMaxImmediateRetries  = 5
	DefaultFailureCacheCapacity = 1000
	DefaultSatelliteMaxFailures = 4
)

// Settings is built once at startup and passed to the policy and executor.
type Settings struct {
	ImmediateRetriesEnabled bool
	MaxImmediateRetries     int

	DelayedRetriesEnabled bool
	DelayedRetryPolicy    DelayedRetryPolicy

	// NoTransactions is set when the transport cannot roll back a receive.
	NoTransactions bool

	FailureCacheCapacity int
	SatelliteMaxFailures int
}

// DefaultSettings enables both retry tiers with the linear delayed retry policy.
func DefaultSettings() Settings {
	return Settings{
		ImmediateRetriesEnabled: true,
		MaxImmediateRetries:     DefaultMaxImmediateRetries,
		DelayedRetriesEnabled:   true,
		DelayedRetryPolicy:      NewDefaultDelayedRetryPolicy(DefaultNumberOfRetries, DefaultTimeIncrease),
		FailureCacheCapacity:    DefaultFailureCacheCapacity,
		SatelliteMaxFailures:    DefaultSatelliteMaxFailures,
	}
}

// ForTransactionMode derives NoTransactions from mode.
func (s Settings) ForTransactionMode(mode domain.TransactionMode) Settings {
	s.NoTransactions = mode == domain.TransactionModeNone
	return s.normalize()
}

func (s Settings) normalize() Settings {
	if s.NoTransactions {
		s.ImmediateRetriesEnabled = false
		s.DelayedRetriesEnabled = false
	}
	if s.MaxImmediateRetries <= 0 {
		s.ImmediateRetriesEnabled = false
	}
	if s.DelayedRetryPolicy == nil {
		s.DelayedRetriesEnabled = false
	}
	if s.FailureCacheCapacity <= 0 {
		s.FailureCacheCapacity = DefaultFailureCacheCapacity
	}
	if s.SatelliteMaxFailures <= 0 {
		s.SatelliteMaxFailures = DefaultSatelliteMaxFailures
	}
	return s
}
