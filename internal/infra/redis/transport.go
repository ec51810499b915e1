package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

const (
	defaultPollWindow   = time.Second
	defaultPromoteBatch = 100
	defaultLease        = 5 * time.Minute
)

// promoteDue atomically moves due members of the deferred set to the queue.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// reclaimExpired returns processing-list members whose lease ran out to the
// head of the queue. Members without a lease (their receiver died between the
// move and the lease write) get one starting now, so live receivers are never
// robbed of work they are about to lease.
var reclaimExpired = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local moved = 0
for _, member in ipairs(expired) do
	redis.call('ZREM', KEYS[2], member)
	if redis.call('LREM', KEYS[1], 1, member) > 0 then
		redis.call('RPUSH', KEYS[3], member)
		moved = moved + 1
	end
end
for _, member in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
	redis.call('ZADD', KEYS[2], 'NX', ARGV[2], member)
end
return moved
`)

// envelope is the wire representation of a queued message. ID keeps
// identical messages distinct inside the deferred set.
type envelope struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	Headers   domain.Headers `json:"headers"`
	Body      []byte         `json:"body"`
}

// Transport is a queue transport on Redis lists. Deferred messages wait in a
// sorted set scored by due time.
type Transport struct {
	client     *Client
	pollWindow time.Duration
	lease      time.Duration
	now        func() time.Time
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithPollWindow sets how long a receive blocks before returning empty-handed.
// Redis blocks in whole seconds.
func WithPollWindow(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d < time.Second {
			d = time.Second
		}
		t.pollWindow = d
	}
}

// WithLease sets how long a received message stays invisible before another
// receiver may take it back. It must exceed the longest handler run.
func WithLease(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.lease = d
		}
	}
}

// WithClock overrides the time source used for deferred delivery.
func WithClock(now func() time.Time) TransportOption {
	return func(t *Transport) { t.now = now }
}

// NewTransport creates a Redis transport.
func NewTransport(client *Client, opts ...TransportOption) *Transport {
	t := &Transport{
		client:     client,
		pollWindow: defaultPollWindow,
		lease:      defaultLease,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SupportsDelayedDelivery implements transport.DelayedDeliverySupporter.
func (t *Transport) SupportsDelayedDelivery() bool { return true }

// Ping implements transport.Pinger.
func (t *Transport) Ping(ctx context.Context) error { return t.client.Ping(ctx) }

// Dispatch implements transport.Dispatcher. All immediate operations are
// written in one MULTI/EXEC block.
func (t *Transport) Dispatch(
	ctx context.Context,
	ops []domain.TransportOperation,
	txn *domain.TransportTransaction,
) error {
	now, err := transport.Split(ops, txn)
	if err != nil {
		return err
	}
	if len(now) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.DispatchLatency.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	current := t.now()
	_, err = t.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range now {
			payload, err := json.Marshal(envelope{
				ID:        uuid.NewString(),
				MessageID: op.Message.MessageID,
				Headers:   op.Message.Headers,
				Body:      op.Message.Body,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal message %s: %w", op.Message.MessageID, err)
			}

			if at := op.DeliverAt(current); at.After(current) {
				pipe.ZAdd(ctx, t.client.deferredKey(op.Destination), redis.Z{
					Score:  float64(at.UnixMilli()),
					Member: string(payload),
				})
				continue
			}
			pipe.LPush(ctx, t.client.queueKey(op.Destination), string(payload))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis dispatch failed: %w", err)
	}
	return nil
}

// Receiver implements transport.Transport.
func (t *Transport) Receiver(address string, mode domain.TransactionMode) transport.Receiver {
	return &receiver{t: t, address: address, mode: mode}
}

// PromoteDue moves deferred messages at address that are due to the queue.
func (t *Transport) PromoteDue(ctx context.Context, address string) (int, error) {
	n, err := promoteDue.Run(ctx, t.client.rdb,
		[]string{t.client.deferredKey(address), t.client.queueKey(address)},
		strconv.FormatInt(t.now().UnixMilli(), 10), defaultPromoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote deferred messages: %w", err)
	}
	return n, nil
}

// Reclaim returns messages at address whose lease expired to the queue. A
// receiver that crashed mid-attempt leaves its message in the processing list;
// it becomes visible again once its lease runs out.
func (t *Transport) Reclaim(ctx context.Context, address string) (int, error) {
	now := t.now()
	n, err := reclaimExpired.Run(ctx, t.client.rdb,
		[]string{t.client.processingKey(address), t.client.leaseKey(address), t.client.queueKey(address)},
		now.UnixMilli(), now.Add(t.lease).UnixMilli(), defaultPromoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		metrics.MessagesReclaimed.WithLabelValues(address).Add(float64(n))
	}
	return n, nil
}

// Len returns the number of ready plus deferred messages at address.
func (t *Transport) Len(ctx context.Context, address string) (int, error) {
	ready, err := t.client.rdb.LLen(ctx, t.client.queueKey(address)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	deferred, err := t.client.rdb.ZCard(ctx, t.client.deferredKey(address)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(ready + deferred), nil
}

type receiver struct {
	t       *Transport
	address string
	mode    domain.TransactionMode
}

// Receive implements transport.Receiver.
func (r *receiver) Receive(ctx context.Context) (*transport.Delivery, error) {
	if _, err := r.t.Reclaim(ctx, r.address); err != nil {
		return nil, err
	}
	if _, err := r.t.PromoteDue(ctx, r.address); err != nil {
		return nil, err
	}

	c := r.t.client
	payload, err := c.rdb.BLMove(ctx,
		c.queueKey(r.address), c.processingKey(r.address), "RIGHT", "LEFT", r.t.pollWindow,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("redis receive failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		// unreadable envelopes cannot be redelivered; drop them from the processing list
		_ = r.ack(ctx, payload)
		return nil, fmt.Errorf("failed to decode envelope on %s: %w", r.address, err)
	}

	deadline := r.t.now().Add(r.t.lease)
	if err := c.rdb.ZAdd(ctx, c.leaseKey(r.address), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return nil, fmt.Errorf("failed to lease message on %s: %w", r.address, err)
	}

	msg := domain.NewIncomingMessage(env.MessageID, env.Headers, env.Body)
	txn := domain.NewTransportTransaction(r.mode)
	return transport.NewDelivery(msg, txn,
		func(ctx context.Context) error { return r.ack(ctx, payload) },
		func(ctx context.Context) error { return r.nack(ctx, payload) },
	), nil
}

func (r *receiver) ack(ctx context.Context, payload string) error {
	c := r.t.client
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.processingKey(r.address), 1, payload)
		pipe.ZRem(ctx, c.leaseKey(r.address), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (r *receiver) nack(ctx context.Context, payload string) error {
	if r.mode == domain.TransactionModeNone {
		return r.ack(ctx, payload)
	}
	c := r.t.client
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, c.processingKey(r.address), 1, payload)
		pipe.ZRem(ctx, c.leaseKey(r.address), payload)
		pipe.RPush(ctx, c.queueKey(r.address), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to return message to queue: %w", err)
	}
	return nil
}
