package recovery

import (
	"log/slog"
)

// Policy maps a failed attempt to an action. Implementations must be pure.
type Policy interface {
	Invoke(ec ErrorContext, currentDelayedRetryAttempts int) Action
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ec ErrorContext, currentDelayedRetryAttempts int) Action

// Invoke implements Policy.
func (f PolicyFunc) Invoke(ec ErrorContext, currentDelayedRetryAttempts int) Action {
	return f(ec, currentDelayedRetryAttempts)
}

// RecoverabilityPolicy checks immediate retries first, then delayed retries,
// then gives up.
type RecoverabilityPolicy struct {
	settings Settings
	log      *slog.Logger
}

// NewPolicy creates the default policy.
func NewPolicy(settings Settings, log *slog.Logger) *RecoverabilityPolicy {
	if log == nil {
		log = slog.Default()
	}
	return &RecoverabilityPolicy{settings: settings.normalize(), log: log}
}

// Invoke implements Policy.
func (p *RecoverabilityPolicy) Invoke(ec ErrorContext, currentDelayedRetryAttempts int) Action {
	if p.settings.ImmediateRetriesEnabled {
		if ec.DeliveryAttempts() <= p.settings.MaxImmediateRetries {
			return ImmediateRetry{}
		}
		p.log.Info("Giving up immediate retries",
			"message_id", ec.MessageID(),
			"attempts", ec.DeliveryAttempts(),
		)
	}

	if p.settings.DelayedRetriesEnabled {
		delay, ok := p.settings.DelayedRetryPolicy.TryGetDelay(DelayedRetryContext{
			Err:     ec.Err(),
			Message: ec.Message(),
			Attempt: currentDelayedRetryAttempts + 1,
		})
		if ok {
			if delay < 0 {
				delay = 0
			}
			return DelayedRetry{Delay: delay}
		}
		p.log.Warn("Giving up delayed retries",
			"message_id", ec.MessageID(),
			"delayed_attempts", currentDelayedRetryAttempts,
		)
	}

	return MoveToError{}
}
