package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/notify"
)

// DelayedRetrier reschedules a message for later delivery.
type DelayedRetrier interface {
	Retry(
		ctx context.Context,
		message *domain.IncomingMessage,
		delay time.Duration,
		currentRetryAttempt int,
		txn *domain.TransportTransaction,
	) error
}

// ErrorQueueMover dead-letters a message.
type ErrorQueueMover interface {
	MoveToErrorQueue(
		ctx context.Context,
		message *domain.IncomingMessage,
		cause error,
		txn *domain.TransportTransaction,
	) error
}

// Executor applies the recoverability policy to a failed attempt and carries
// out the chosen action.
type Executor struct {
	policy         Policy
	noTransactions bool
	delayed        DelayedRetrier
	errors         ErrorQueueMover
	log            *slog.Logger
}

// NewExecutor creates an executor. delayed may be nil when delayed retries are off.
func NewExecutor(
	settings Settings,
	policy Policy,
	delayed DelayedRetrier,
	mover ErrorQueueMover,
	log *slog.Logger,
) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if policy == nil {
		policy = NewPolicy(settings, log)
	}
	return &Executor{
		policy:         policy,
		noTransactions: settings.NoTransactions,
		delayed:        delayed,
		errors:         mover,
		log:            log,
	}
}

// Invoke handles one failed attempt. It returns true when the caller should
// redeliver within the current receive. A non-nil error means the message
// state is ambiguous and the receive must be rolled back.
func (e *Executor) Invoke(ctx context.Context, ec ErrorContext, notifier notify.Notifier) (bool, error) {
	if e.noTransactions {
		return false, e.moveToError(ctx, ec, notifier)
	}

	attempts := GetNumberOfRetries(ec.Headers())
	action := e.policy.Invoke(ec, attempts)

	switch a := action.(type) {
	case ImmediateRetry:
		err := e.raise(ctx, notifier, ec, notify.MessageToBeRetried{
			Attempt:   ec.DeliveryAttempts() - 1,
			Immediate: true,
			Message:   ec.Message(),
			Err:       ec.Err(),
		})
		return err == nil, err

	case DelayedRetry:
		if e.delayed == nil {
			return false, fmt.Errorf("delayed retry of message %s requested without a delayed retry executor", ec.MessageID())
		}
		e.log.Warn("Rescheduling message for delayed retry",
			"message_id", ec.MessageID(),
			"delay", a.Delay,
			"attempt", attempts+1,
			"error", ec.Err(),
		)
		if err := e.delayed.Retry(ctx, ec.Message(), a.Delay, attempts, ec.Transaction()); err != nil {
			return false, err
		}
		return false, e.raise(ctx, notifier, ec, notify.MessageToBeRetried{
			Attempt: attempts + 1,
			Delay:   a.Delay,
			Message: ec.Message(),
			Err:     ec.Err(),
		})

	case MoveToError:
		return false, e.moveToError(ctx, ec, notifier)

	default:
		return false, fmt.Errorf("%w: %v", ErrUnknownAction, action)
	}
}

func (e *Executor) moveToError(ctx context.Context, ec ErrorContext, notifier notify.Notifier) error {
	e.log.Error("Moving message to error queue",
		"message_id", ec.MessageID(),
		"error", ec.Err(),
	)
	if err := e.errors.MoveToErrorQueue(ctx, ec.Message(), ec.Err(), ec.Transaction()); err != nil {
		return err
	}
	return e.raise(ctx, notifier, ec, notify.MessageFaulted{
		Message: ec.Message(),
		Err:     ec.Err(),
	})
}

// raise publishes after the action happened. Only cancellation comes back,
// joined with the handling error so the cause is not masked.
func (e *Executor) raise(ctx context.Context, notifier notify.Notifier, ec ErrorContext, event notify.Event) error {
	if notifier == nil {
		return nil
	}
	if err := notifier.Raise(ctx, event); err != nil {
		return errors.Join(err, ec.Err())
	}
	return nil
}
