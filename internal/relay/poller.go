package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

// Poller finds due timeouts and asks the dispatch satellite to release them.
type Poller struct {
	store      storage.TimeoutStore
	dispatcher transport.Dispatcher
	address    string
	interval   time.Duration
	batchSize  int
	lease      time.Duration
	now        func() time.Time
	log        *slog.Logger

	mu       sync.Mutex
	inflight map[string]time.Time
}

// NewPoller creates a poller that sends control messages to address.
func NewPoller(
	store storage.TimeoutStore,
	dispatcher transport.Dispatcher,
	address string,
	interval time.Duration,
	batchSize int,
	log *slog.Logger,
) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		store:      store,
		dispatcher: dispatcher,
		address:    address,
		interval:   interval,
		batchSize:  batchSize,
		lease:      max(10*interval, 30*time.Second),
		now:        time.Now,
		log:        log,
		inflight:   make(map[string]time.Time),
	}
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.log.Error("Timeout poll failed", "error", err)
	}
}

// Poll sends one control message per due timeout not already in flight and
// returns how many were sent.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	now := p.now()
	due, err := p.store.GetDue(ctx, now, p.batchSize)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	for id, until := range p.inflight {
		if now.After(until) {
			delete(p.inflight, id)
		}
	}
	ops := make([]domain.TransportOperation, 0, len(due))
	for _, e := range due {
		if _, ok := p.inflight[e.ID]; ok {
			continue
		}
		p.inflight[e.ID] = now.Add(p.lease)
		ops = append(ops, domain.TransportOperation{
			Message: &domain.OutgoingMessage{
				MessageID: e.ID,
				Headers:   domain.Headers{domain.HeaderTimeoutID: e.ID},
			},
			Destination: p.address,
			Consistency: domain.DispatchIsolated,
		})
	}
	p.mu.Unlock()

	if len(ops) > 0 {
		if err := p.dispatcher.Dispatch(ctx, ops, nil); err != nil {
			p.release(ops)
			return 0, err
		}
		p.log.Debug("Requested dispatch of due timeouts", "count", len(ops))
	}

	if n, err := p.store.Count(ctx); err == nil {
		metrics.TimeoutsPending.Set(float64(n))
	}
	return len(ops), nil
}

func (p *Poller) release(ops []domain.TransportOperation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, op := range ops {
		delete(p.inflight, op.Message.MessageID)
	}
}
