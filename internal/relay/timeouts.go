package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

var (
	// ErrTimeoutConcurrentlyRemoved means another worker dispatched the timeout first.
	ErrTimeoutConcurrentlyRemoved = errors.New("timeout was concurrently removed")
	// ErrMissingTimeoutHeaders is returned for relay requests without routing headers.
	ErrMissingTimeoutHeaders = errors.New("relay request is missing timeout headers")
)

// StoreTimeout parks relay requests in the store until they expire.
func StoreTimeout(store storage.TimeoutStore, owningEndpoint string) Handler {
	return func(ctx context.Context, d *transport.Delivery) error {
		msg := d.Message
		destination, ok := msg.Headers.Get(domain.HeaderRouteExpiredTimeoutTo)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTimeoutHeaders, domain.HeaderRouteExpiredTimeoutTo)
		}
		rawExpire, ok := msg.Headers.Get(domain.HeaderExpire)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTimeoutHeaders, domain.HeaderExpire)
		}
		expire, err := domain.ParseWireFormattedString(rawExpire)
		if err != nil {
			return fmt.Errorf("invalid %s header: %w", domain.HeaderExpire, err)
		}

		headers := msg.Headers.Clone()
		if _, ok := headers.Get(domain.HeaderMessageID); !ok {
			headers[domain.HeaderMessageID] = msg.MessageID
		}

		entry := &domain.TimeoutEntry{
			ID:             uuid.NewString(),
			Destination:    destination,
			Headers:        headers,
			State:          msg.Body,
			Time:           expire,
			OwningEndpoint: owningEndpoint,
		}
		if err := store.Add(ctx, entry); err != nil {
			return fmt.Errorf("failed to store timeout for message %s: %w", msg.MessageID, err)
		}
		metrics.TimeoutsStored.Inc()
		return nil
	}
}

// DispatchTimeout releases a due timeout to its destination. It peeks the
// entry, dispatches it and then removes it; losing the removal race fails the
// receive so it is rolled back.
func DispatchTimeout(store storage.TimeoutStore, dispatcher transport.Dispatcher, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, d *transport.Delivery) error {
		id, ok := d.Message.Headers.Get(domain.HeaderTimeoutID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTimeoutHeaders, domain.HeaderTimeoutID)
		}

		entry, err := store.Peek(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to peek timeout %s: %w", id, err)
		}
		if entry == nil {
			return nil
		}

		headers := entry.Headers.Clone()
		delete(headers, domain.HeaderExpire)
		delete(headers, domain.HeaderRouteExpiredTimeoutTo)
		headers[domain.HeaderTimeSent] = domain.ToWireFormattedString(now())
		headers[domain.HeaderRelatedToTimeoutID] = entry.ID

		messageID, ok := headers.Get(domain.HeaderMessageID)
		if !ok {
			messageID = entry.ID
		}

		consistency := domain.DispatchIsolated
		if d.Transaction != nil && d.Transaction.Mode == domain.TransactionModeTransactionScope {
			consistency = domain.DispatchDefault
		}
		op := domain.TransportOperation{
			Message: &domain.OutgoingMessage{
				MessageID: messageID,
				Headers:   headers,
				Body:      entry.State,
			},
			Destination: entry.Destination,
			Consistency: consistency,
		}
		if err := dispatcher.Dispatch(ctx, []domain.TransportOperation{op}, d.Transaction); err != nil {
			return fmt.Errorf("failed to dispatch timeout %s: %w", id, err)
		}

		removed, err := store.TryRemove(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to remove timeout %s: %w", id, err)
		}
		if !removed {
			return fmt.Errorf("%w: %s", ErrTimeoutConcurrentlyRemoved, id)
		}
		metrics.TimeoutsDispatched.Inc()
		return nil
	}
}
