package control

import (
	"github.com/vietddude/redeliver/internal/core/config"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/recovery"
)

// BuildSettings turns the recoverability section into the value object handed
// to the policy and executors.
func BuildSettings(cfg config.RecoverabilityConfig, mode domain.TransactionMode) recovery.Settings {
	s := recovery.Settings{
		ImmediateRetriesEnabled: cfg.Immediate.IsEnabled(),
		MaxImmediateRetries:     cfg.Immediate.MaxRetries,
		DelayedRetriesEnabled:   cfg.Delayed.IsEnabled(),
		FailureCacheCapacity:    cfg.FailureCacheCapacity,
		SatelliteMaxFailures:    cfg.SatelliteMaxFailures,
	}

	if s.DelayedRetriesEnabled {
		var policy recovery.DelayedRetryPolicy
		switch cfg.Delayed.Policy {
		case "exponential":
			backoff := recovery.DefaultBackoff(recovery.DefaultClassifier)
			backoff.InitialDelay = cfg.Delayed.InitialDelay
			backoff.MaxDelay = cfg.Delayed.MaxDelay
			backoff.MaxAttempts = cfg.Delayed.NumberOfRetries
			policy = backoff
		default:
			linear := recovery.NewDefaultDelayedRetryPolicy(cfg.Delayed.NumberOfRetries, cfg.Delayed.TimeIncrease)
			linear.MaxWindow = cfg.Delayed.MaxWindow
			policy = linear
		}
		if cfg.Delayed.SkipsPermanent() {
			policy = recovery.ExcludePermanent(policy, recovery.DefaultClassifier)
		}
		s.DelayedRetryPolicy = policy
	}

	return s.ForTransactionMode(mode)
}
