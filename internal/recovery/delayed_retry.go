package recovery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

// DelayedRetryExecutor reschedules a message for a later redelivery, natively
// when the transport supports deferred delivery and through the timeout relay
// otherwise.
type DelayedRetryExecutor struct {
	inputAddress          string
	timeoutManagerAddress string
	dispatcher            transport.Dispatcher
	endpoint              string
	now                   func() time.Time
}

// DelayedRetryOption configures a DelayedRetryExecutor.
type DelayedRetryOption func(*DelayedRetryExecutor)

// WithDelayedRetryClock overrides the time source.
func WithDelayedRetryClock(now func() time.Time) DelayedRetryOption {
	return func(e *DelayedRetryExecutor) { e.now = now }
}

// WithEndpointName labels metrics.
func WithEndpointName(name string) DelayedRetryOption {
	return func(e *DelayedRetryExecutor) { e.endpoint = name }
}

// NewDelayedRetryExecutor creates the executor. An empty timeoutManagerAddress
// means the dispatcher must support delayed delivery.
func NewDelayedRetryExecutor(
	inputAddress string,
	dispatcher transport.Dispatcher,
	timeoutManagerAddress string,
	opts ...DelayedRetryOption,
) *DelayedRetryExecutor {
	e := &DelayedRetryExecutor{
		inputAddress:          inputAddress,
		timeoutManagerAddress: timeoutManagerAddress,
		dispatcher:            dispatcher,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Native reports whether retries use the transport's own deferred delivery.
func (e *DelayedRetryExecutor) Native() bool {
	return e.timeoutManagerAddress == "" || transport.SupportsDelayedDelivery(e.dispatcher)
}

// Retry dispatches a copy of message that will be delivered again after delay.
func (e *DelayedRetryExecutor) Retry(
	ctx context.Context,
	message *domain.IncomingMessage,
	delay time.Duration,
	currentRetryAttempt int,
	txn *domain.TransportTransaction,
) error {
	now := e.now().UTC()

	out := message.ToOutgoing()
	out.Headers[domain.HeaderRetries] = strconv.Itoa(currentRetryAttempt + 1)
	out.Headers[domain.HeaderRetriesTimestamp] = domain.ToWireFormattedString(now)

	var op domain.TransportOperation
	route := "native"
	if e.Native() {
		if !transport.SupportsDelayedDelivery(e.dispatcher) {
			return transport.ErrDelayedDeliveryNotSupported
		}
		op = domain.TransportOperation{
			Message:     out,
			Destination: e.inputAddress,
			Consistency: domain.DispatchDefault,
			Constraints: []domain.DeliveryConstraint{domain.DelayDeliveryWith{Delay: delay}},
		}
	} else {
		route = "relay"
		out.Headers[domain.HeaderRouteExpiredTimeoutTo] = e.inputAddress
		out.Headers[domain.HeaderExpire] = domain.ToWireFormattedString(now.Add(delay))

		// A lost relay request is a silent message loss, so it must not depend on
		// the receive committing unless a distributed transaction covers both.
		consistency := domain.DispatchIsolated
		if txn != nil && txn.Mode == domain.TransactionModeTransactionScope {
			consistency = domain.DispatchDefault
		}
		op = domain.TransportOperation{
			Message:     out,
			Destination: e.timeoutManagerAddress,
			Consistency: consistency,
		}
	}

	if err := e.dispatcher.Dispatch(ctx, []domain.TransportOperation{op}, txn); err != nil {
		return fmt.Errorf("failed to schedule delayed retry of message %s: %w", message.MessageID, err)
	}

	metrics.DelayedRetries.WithLabelValues(e.endpoint, route).Inc()
	metrics.RetryDelay.WithLabelValues(e.endpoint).Observe(delay.Seconds())
	return nil
}

// GetNumberOfRetries returns the completed delayed retry cycles recorded in
// headers. Missing or garbled values count as zero.
func GetNumberOfRetries(headers domain.Headers) int {
	raw, ok := headers.Get(domain.HeaderRetries)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
