package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/redeliver/internal/core/domain"
)

var (
	// ErrDelayedDeliveryNotSupported is returned by dispatchers that cannot defer messages.
	ErrDelayedDeliveryNotSupported = errors.New("transport does not support delayed delivery")
	// ErrNoDestination is returned for operations without a destination address.
	ErrNoDestination = errors.New("transport operation has no destination")
)

// Dispatcher sends messages. Dispatch must either apply all operations that are
// sent immediately or return an error; the caller treats an error as fatal.
type Dispatcher interface {
	Dispatch(ctx context.Context, ops []domain.TransportOperation, txn *domain.TransportTransaction) error
}

// Receiver hands out messages from an input queue. It returns (nil, nil) when
// no message arrived within its poll window.
type Receiver interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// DelayedDeliverySupporter is implemented by transports that honour delay
// constraints natively.
type DelayedDeliverySupporter interface {
	SupportsDelayedDelivery() bool
}

// Pinger reports transport health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Transport is a full queue transport.
type Transport interface {
	Dispatcher
	DelayedDeliverySupporter
	// Receiver opens a receiver on address using the given transaction mode.
	Receiver(address string, mode domain.TransactionMode) Receiver
}

// SupportsDelayedDelivery reports whether d can defer messages natively.
func SupportsDelayedDelivery(d Dispatcher) bool {
	s, ok := d.(DelayedDeliverySupporter)
	return ok && s.SupportsDelayedDelivery()
}

// Split enlists the operations that belong to txn and returns the ones that
// must be sent right away. Operations join the transaction only when the mode
// makes sends atomic with the receive and the operation is not isolated.
func Split(ops []domain.TransportOperation, txn *domain.TransportTransaction) ([]domain.TransportOperation, error) {
	now := make([]domain.TransportOperation, 0, len(ops))
	for _, op := range ops {
		if op.Destination == "" {
			return nil, ErrNoDestination
		}
		if op.Message == nil {
			return nil, fmt.Errorf("transport operation to %s has no message", op.Destination)
		}
		if txn != nil && txn.Mode.AtomicSends() && op.Consistency == domain.DispatchDefault {
			txn.Enlist(op)
			continue
		}
		now = append(now, op)
	}
	return now, nil
}

// Delivery is one received message together with its transaction.
type Delivery struct {
	Message     *domain.IncomingMessage
	Transaction *domain.TransportTransaction

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// NewDelivery is used by transports to build deliveries.
func NewDelivery(
	msg *domain.IncomingMessage,
	txn *domain.TransportTransaction,
	ack func(ctx context.Context) error,
	nack func(ctx context.Context) error,
) *Delivery {
	return &Delivery{Message: msg, Transaction: txn, ack: ack, nack: nack}
}

// Commit sends the enlisted operations through flush and acknowledges the receive.
func (d *Delivery) Commit(ctx context.Context, flush Dispatcher) error {
	if ops := d.Transaction.Drain(); len(ops) > 0 {
		if err := flush.Dispatch(ctx, ops, nil); err != nil {
			return fmt.Errorf("failed to flush %d enlisted operations: %w", len(ops), err)
		}
	}
	return d.ack(ctx)
}

// Rollback discards enlisted operations and returns the message to the queue
// when the transaction mode allows it.
func (d *Delivery) Rollback(ctx context.Context) error {
	d.Transaction.Drain()
	return d.nack(ctx)
}
