package domain

import (
	"fmt"
	"sync"
)

// TransactionMode is the transactional guarantee a transport offers for receives.
type TransactionMode string

const (
	// TransactionModeNone: a failed receive cannot be rolled back.
	TransactionModeNone TransactionMode = "none"
	// TransactionModeReceiveOnly: the receive rolls back, sends go out immediately.
	TransactionModeReceiveOnly TransactionMode = "receive_only"
	// TransactionModeSendsAtomicWithReceive: sends commit together with the receive.
	TransactionModeSendsAtomicWithReceive TransactionMode = "sends_atomic_with_receive"
	// TransactionModeTransactionScope: a distributed transaction spans receive and sends.
	TransactionModeTransactionScope TransactionMode = "transaction_scope"
)

// ParseTransactionMode validates a configured mode. Empty means receive_only.
func ParseTransactionMode(s string) (TransactionMode, error) {
	switch m := TransactionMode(s); m {
	case "":
		return TransactionModeReceiveOnly, nil
	case TransactionModeNone, TransactionModeReceiveOnly,
		TransactionModeSendsAtomicWithReceive, TransactionModeTransactionScope:
		return m, nil
	default:
		return "", fmt.Errorf("unknown transaction mode %q", s)
	}
}

// AtomicSends reports whether sends can be enlisted in the receive transaction.
func (m TransactionMode) AtomicSends() bool {
	return m == TransactionModeSendsAtomicWithReceive || m == TransactionModeTransactionScope
}

// TransportTransaction is the transactional context of one receive. It is
// passed unchanged to dispatch calls so operations can join it.
type TransportTransaction struct {
	Mode TransactionMode

	mu      sync.Mutex
	pending []TransportOperation
}

// NewTransportTransaction creates an empty transaction for the given mode.
func NewTransportTransaction(mode TransactionMode) *TransportTransaction {
	return &TransportTransaction{Mode: mode}
}

// Enlist defers ops until the receive commits.
func (t *TransportTransaction) Enlist(ops ...TransportOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, ops...)
}

// Drain returns and clears the enlisted operations.
func (t *TransportTransaction) Drain() []TransportOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := t.pending
	t.pending = nil
	return ops
}

// Pending returns the number of enlisted operations.
func (t *TransportTransaction) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
