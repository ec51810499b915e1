package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/redeliver/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func send(dest string, delay time.Duration) domain.TransportOperation {
	op := domain.TransportOperation{
		Message:     &domain.OutgoingMessage{MessageID: "m-1", Headers: domain.Headers{"k": "v"}, Body: []byte("hi")},
		Destination: dest,
	}
	if delay > 0 {
		op.Constraints = []domain.DeliveryConstraint{domain.DelayDeliveryWith{Delay: delay}}
	}
	return op
}

func TestTransport_DispatchAndReceive(t *testing.T) {
	tr := New(WithPollWindow(10 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("input", 0)}, nil))

	d, err := tr.Receiver("input", domain.TransactionModeReceiveOnly).Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "m-1", d.Message.MessageID)
	assert.Equal(t, []byte("hi"), d.Message.Body)
	require.NoError(t, d.Commit(ctx, tr))
	assert.Equal(t, 0, tr.Len("input"))
}

func TestTransport_ReceiveTimesOutEmpty(t *testing.T) {
	tr := New(WithPollWindow(10 * time.Millisecond))
	d, err := tr.Receiver("input", domain.TransactionModeReceiveOnly).Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestTransport_DeferredDelivery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(WithClock(clock.Now), WithPollWindow(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("input", time.Minute)}, nil))
	assert.Len(t, tr.Deferred("input"), 1)

	d, err := tr.Receiver("input", domain.TransactionModeReceiveOnly).Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "message must not be delivered before its delay elapsed")

	clock.Advance(time.Minute)
	d, err = tr.Receiver("input", domain.TransactionModeReceiveOnly).Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestTransport_RollbackRequeues(t *testing.T) {
	tr := New(WithPollWindow(10 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("input", 0)}, nil))

	rcv := tr.Receiver("input", domain.TransactionModeReceiveOnly)
	d, err := rcv.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Rollback(ctx))

	assert.Equal(t, 1, tr.Len("input"))
}

func TestTransport_NoTransactionsRollbackDrops(t *testing.T) {
	tr := New(WithPollWindow(10 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("input", 0)}, nil))

	d, err := tr.Receiver("input", domain.TransactionModeNone).Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Rollback(ctx))

	assert.Equal(t, 0, tr.Len("input"))
}

func TestTransport_AtomicSendsWaitForCommit(t *testing.T) {
	tr := New(WithPollWindow(10 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("input", 0)}, nil))

	d, err := tr.Receiver("input", domain.TransactionModeSendsAtomicWithReceive).Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Dispatch(ctx, []domain.TransportOperation{send("error", 0)}, d.Transaction))
	assert.Equal(t, 0, tr.Len("error"))

	require.NoError(t, d.Commit(ctx, tr))
	assert.Equal(t, 1, tr.Len("error"))
}

func TestTransport_ReceiveWakesOnDispatch(t *testing.T) {
	tr := New(WithPollWindow(time.Second))
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = tr.Dispatch(ctx, []domain.TransportOperation{send("input", 0)}, nil)
	}()

	d, err := tr.Receiver("input", domain.TransactionModeReceiveOnly).Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
}
