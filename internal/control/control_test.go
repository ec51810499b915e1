package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/redeliver/internal/core/config"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/endpoint"
	redisclient "github.com/vietddude/redeliver/internal/infra/redis"
	"github.com/vietddude/redeliver/internal/infra/transport/memory"
)

func loadConfig(t *testing.T, content string) *config.AppConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []*domain.IncomingMessage
	fail func(msg *domain.IncomingMessage) error
}

func (h *recordingHandler) Handle(ctx context.Context, msg *domain.IncomingMessage) error {
	h.mu.Lock()
	h.seen = append(h.seen, msg)
	h.mu.Unlock()
	if h.fail != nil {
		return h.fail(msg)
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *recordingHandler) last() *domain.IncomingMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) == 0 {
		return nil
	}
	return h.seen[len(h.seen)-1]
}

func send(t *testing.T, e *Endpoint, address, id string) {
	t.Helper()
	err := e.Dispatcher().Dispatch(context.Background(), []domain.TransportOperation{{
		Message:     &domain.OutgoingMessage{MessageID: id, Headers: domain.Headers{}, Body: []byte(`{"id":1}`)},
		Destination: address,
	}}, nil)
	require.NoError(t, err)
}

func runEndpoint(t *testing.T, e *Endpoint) {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, e.Stop(ctx))
	})
}

func TestEndpoint_Lifecycle(t *testing.T) {
	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
transport:
  poll_window: 20ms
`)
	handler := &recordingHandler{}
	e, err := New(context.Background(), cfg, Options{Handler: handler})
	require.NoError(t, err)
	assert.False(t, e.RelayEnabled(), "memory transport defers natively")

	runEndpoint(t, e)
	send(t, e, "orders", "m-1")

	require.Eventually(t, func() bool { return handler.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "m-1", handler.last().MessageID)

	rec := httptest.NewRecorder()
	e.Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timeouts/due", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestEndpoint_FaultedMessageReachesErrorQueue(t *testing.T) {
	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
  error_address: orders.error
recoverability:
  immediate:
    max_retries: 1
  delayed:
    enabled: false
transport:
  poll_window: 20ms
`)
	tr := memory.New(memory.WithPollWindow(20 * time.Millisecond))
	handler := &recordingHandler{fail: func(*domain.IncomingMessage) error { return errors.New("boom") }}

	e, err := New(context.Background(), cfg, Options{Handler: handler, Transport: tr})
	require.NoError(t, err)
	runEndpoint(t, e)
	send(t, e, "orders", "m-1")

	require.Eventually(t, func() bool { return tr.Len("orders.error") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, handler.count())

	dead := tr.Messages("orders.error")[0]
	assert.Equal(t, "orders", dead.Headers[domain.HeaderFailedQ])
	assert.Equal(t, "orders", dead.Headers[domain.HeaderProcessingEndpoint])
	assert.NotEmpty(t, dead.Headers[domain.HeaderHostID])
}

func TestEndpoint_DelayedRetryThroughRelay(t *testing.T) {
	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
recoverability:
  immediate:
    enabled: false
  delayed:
    number_of_retries: 1
    time_increase: 10ms
transport:
  poll_window: 20ms
timeouts:
  force_relay: true
  poll_interval: 10ms
`)
	handler := &recordingHandler{fail: func(msg *domain.IncomingMessage) error {
		if msg.Headers[domain.HeaderRetries] == "" {
			return errors.New("first delivery fails")
		}
		return nil
	}}

	e, err := New(context.Background(), cfg, Options{Handler: handler})
	require.NoError(t, err)
	require.True(t, e.RelayEnabled())

	runEndpoint(t, e)
	send(t, e, "orders", "m-1")

	require.Eventually(t, func() bool { return handler.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	retried := handler.last()
	assert.Equal(t, "1", retried.Headers[domain.HeaderRetries])
	assert.NotEmpty(t, retried.Headers[domain.HeaderRelatedToTimeoutID])
	assert.NotContains(t, retried.Headers, domain.HeaderExpire)

	n, err := e.Store().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEndpoint_DefaultHandlerRequiresWebhookURL(t *testing.T) {
	cfg := loadConfig(t, "server:\n  port: 0\n")
	_, err := New(context.Background(), cfg, Options{})
	assert.Error(t, err)

	cfg.Handler = endpoint.WebhookConfig{URL: "http://localhost:9/hook"}
	e, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.NoError(t, e.Stop(context.Background()))
}

func TestEndpoint_SQLiteStore(t *testing.T) {
	cfg := loadConfig(t, `
server:
  port: 0
timeouts:
  store: sqlite
  sqlite_path: `+filepath.Join(t.TempDir(), "timeouts.db")+`
`)
	e, err := New(context.Background(), cfg, Options{Handler: &recordingHandler{}})
	require.NoError(t, err)
	defer e.Stop(context.Background())

	n, err := e.Store().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEndpoint_GracefulShutdownWaitsForInFlight(t *testing.T) {
	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
transport:
  poll_window: 20ms
`)
	started := make(chan struct{})
	var finished atomic.Bool
	handler := endpoint.HandlerFunc(func(ctx context.Context, msg *domain.IncomingMessage) error {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	e, err := New(context.Background(), cfg, Options{Handler: handler})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	send(t, e, "orders", "m-1")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	assert.True(t, finished.Load(), "Stop returned before the in-flight message finished")
}

func TestEndpoint_RedisTransportAndStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
transport:
  kind: redis
redis:
  url: redis://`+mr.Addr()+`
timeouts:
  store: redis
`)
	handler := &recordingHandler{}
	e, err := New(context.Background(), cfg, Options{Handler: handler})
	require.NoError(t, err)
	assert.False(t, e.RelayEnabled())

	runEndpoint(t, e)
	send(t, e, "orders", "m-1")

	require.Eventually(t, func() bool { return handler.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "m-1", handler.last().MessageID)
}

func TestEndpoint_RestartRecoversMessageAbandonedInFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	// a previous process took m-1 off the queue and died before acking it
	crashed, err := redisclient.NewClient(redisclient.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	before := redisclient.NewTransport(crashed, redisclient.WithLease(300*time.Millisecond))
	require.NoError(t, before.Dispatch(ctx, []domain.TransportOperation{{
		Message:     &domain.OutgoingMessage{MessageID: "m-1", Headers: domain.Headers{domain.HeaderRetries: "2"}, Body: []byte(`{"id":1}`)},
		Destination: "orders",
	}}, nil))
	d, err := before.Receiver("orders", domain.TransactionModeReceiveOnly).Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, crashed.Close())

	cfg := loadConfig(t, `
server:
  port: 0
endpoint:
  name: orders
transport:
  kind: redis
  lease: 300ms
redis:
  url: redis://`+mr.Addr()+`
`)
	handler := &recordingHandler{}
	e, err := New(ctx, cfg, Options{Handler: handler})
	require.NoError(t, err)
	runEndpoint(t, e)

	require.Eventually(t, func() bool { return handler.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	got := handler.last()
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, "2", got.Headers[domain.HeaderRetries], "retry count survives the crash")
}
