package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/transport"
)

const defaultPollWindow = 100 * time.Millisecond

type envelope struct {
	msg       *domain.OutgoingMessage
	deliverAt time.Time
}

type queue struct {
	ready    []envelope
	deferred []envelope
}

// Transport is an in-process queue transport with native deferred delivery.
type Transport struct {
	mu     sync.Mutex
	queues map[string]*queue
	signal chan struct{}

	now        func() time.Time
	pollWindow time.Duration
}

// Option customises the transport.
type Option func(*Transport)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// WithPollWindow sets how long Receive waits before returning empty-handed.
func WithPollWindow(d time.Duration) Option {
	return func(t *Transport) { t.pollWindow = d }
}

// New creates an empty transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		queues:     make(map[string]*queue),
		signal:     make(chan struct{}),
		now:        time.Now,
		pollWindow: defaultPollWindow,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SupportsDelayedDelivery implements transport.DelayedDeliverySupporter.
func (t *Transport) SupportsDelayedDelivery() bool { return true }

// Ping implements transport.Pinger.
func (t *Transport) Ping(ctx context.Context) error { return ctx.Err() }

// Dispatch implements transport.Dispatcher.
func (t *Transport) Dispatch(
	ctx context.Context,
	ops []domain.TransportOperation,
	txn *domain.TransportTransaction,
) error {
	now, err := transport.Split(ops, txn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	current := t.now()
	for _, op := range now {
		q := t.queueLocked(op.Destination)
		env := envelope{msg: cloneOutgoing(op.Message), deliverAt: op.DeliverAt(current)}
		if env.deliverAt.After(current) {
			q.deferred = append(q.deferred, env)
		} else {
			q.ready = append(q.ready, env)
		}
	}
	t.broadcastLocked()
	t.mu.Unlock()
	return nil
}

// Receiver implements transport.Transport.
func (t *Transport) Receiver(address string, mode domain.TransactionMode) transport.Receiver {
	return &receiver{t: t, address: address, mode: mode}
}

// Messages returns copies of the ready messages queued at address.
func (t *Transport) Messages(address string) []*domain.OutgoingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queueLocked(address)
	out := make([]*domain.OutgoingMessage, 0, len(q.ready))
	for _, env := range q.ready {
		out = append(out, cloneOutgoing(env.msg))
	}
	return out
}

// Deferred returns copies of the deferred messages at address with their due time.
func (t *Transport) Deferred(address string) map[*domain.OutgoingMessage]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queueLocked(address)
	out := make(map[*domain.OutgoingMessage]time.Time, len(q.deferred))
	for _, env := range q.deferred {
		out[cloneOutgoing(env.msg)] = env.deliverAt
	}
	return out
}

// Len returns the number of ready plus deferred messages at address.
func (t *Transport) Len(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queueLocked(address)
	return len(q.ready) + len(q.deferred)
}

func (t *Transport) queueLocked(address string) *queue {
	q, ok := t.queues[address]
	if !ok {
		q = &queue{}
		t.queues[address] = q
	}
	return q
}

// broadcastLocked wakes every waiting receiver.
func (t *Transport) broadcastLocked() {
	close(t.signal)
	t.signal = make(chan struct{})
}

// popLocked promotes due deferred messages and pops the head of the queue.
func (t *Transport) popLocked(address string) (envelope, bool) {
	q := t.queueLocked(address)
	current := t.now()

	kept := q.deferred[:0]
	for _, env := range q.deferred {
		if env.deliverAt.After(current) {
			kept = append(kept, env)
			continue
		}
		q.ready = append(q.ready, env)
	}
	q.deferred = kept

	if len(q.ready) == 0 {
		return envelope{}, false
	}
	env := q.ready[0]
	q.ready = q.ready[1:]
	return env, true
}

func (t *Transport) requeue(address string, env envelope) {
	t.mu.Lock()
	q := t.queueLocked(address)
	q.ready = append([]envelope{env}, q.ready...)
	t.broadcastLocked()
	t.mu.Unlock()
}

type receiver struct {
	t       *Transport
	address string
	mode    domain.TransactionMode
}

// Receive implements transport.Receiver.
func (r *receiver) Receive(ctx context.Context) (*transport.Delivery, error) {
	timer := time.NewTimer(r.t.pollWindow)
	defer timer.Stop()

	for {
		r.t.mu.Lock()
		env, ok := r.t.popLocked(r.address)
		wake := r.t.signal
		r.t.mu.Unlock()

		if ok {
			return r.delivery(env), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func (r *receiver) delivery(env envelope) *transport.Delivery {
	txn := domain.NewTransportTransaction(r.mode)
	msg := env.msg.ToIncoming()
	return transport.NewDelivery(msg, txn,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error {
			if r.mode == domain.TransactionModeNone {
				return nil
			}
			r.t.requeue(r.address, env)
			return nil
		},
	)
}

func cloneOutgoing(m *domain.OutgoingMessage) *domain.OutgoingMessage {
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	return &domain.OutgoingMessage{
		MessageID: m.MessageID,
		Headers:   m.Headers.Clone(),
		Body:      body,
	}
}
