package recovery

import (
	"context"
	"sync"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/notify"
	"github.com/vietddude/redeliver/internal/transport"
)

// =============================================================================
// Fakes
// =============================================================================

type recordingDispatcher struct {
	mu      sync.Mutex
	ops     []domain.TransportOperation
	delayed bool
	err     error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ops []domain.TransportOperation, txn *domain.TransportTransaction) error {
	if d.err != nil {
		return d.err
	}
	now, err := transport.Split(ops, txn)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, now...)
	return nil
}

func (d *recordingDispatcher) SupportsDelayedDelivery() bool { return d.delayed }

func (d *recordingDispatcher) sentTo(address string) []domain.TransportOperation {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.TransportOperation
	for _, op := range d.ops {
		if op.Destination == address {
			out = append(out, op)
		}
	}
	return out
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ops)
}

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Raise(ctx context.Context, event notify.Event) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func newMessage(id string, headers domain.Headers) *domain.IncomingMessage {
	return domain.NewIncomingMessage(id, headers, []byte(`{"order":42}`))
}
