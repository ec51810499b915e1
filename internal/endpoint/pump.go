package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vietddude/redeliver/internal/core/critical"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/notify"
	"github.com/vietddude/redeliver/internal/recovery"
	"github.com/vietddude/redeliver/internal/transport"
)

// MessageHandler runs application logic for one message.
type MessageHandler interface {
	Handle(ctx context.Context, msg *domain.IncomingMessage) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *domain.IncomingMessage) error

// Handle implements MessageHandler.
func (f HandlerFunc) Handle(ctx context.Context, msg *domain.IncomingMessage) error {
	return f(ctx, msg)
}

// Recoverability decides what happens to a failed attempt.
type Recoverability interface {
	Invoke(ctx context.Context, ec recovery.ErrorContext, notifier notify.Notifier) (bool, error)
}

// Outcome labels for processed messages.
const (
	OutcomeSuccess   = "success"
	OutcomeRecovered = "recovered"
	OutcomeError     = "error"
)

// Pump receives messages from the input queue and runs them through the
// handler with bounded concurrency.
type Pump struct {
	name           string
	receiver       transport.Receiver
	flush          transport.Dispatcher
	handler        MessageHandler
	recoverability Recoverability
	notifier       notify.Notifier
	critical       *critical.CriticalError
	sem            *semaphore.Weighted
	log            *slog.Logger

	wg sync.WaitGroup
}

// PumpConfig holds the pump collaborators.
type PumpConfig struct {
	Name           string
	Receiver       transport.Receiver
	Flush          transport.Dispatcher
	Handler        MessageHandler
	Recoverability Recoverability
	Notifier       notify.Notifier
	Critical       *critical.CriticalError
	Concurrency    int
	Log            *slog.Logger
}

// NewPump creates a pump.
func NewPump(cfg PumpConfig) *Pump {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Critical == nil {
		cfg.Critical = critical.New(cfg.Log, nil)
	}
	return &Pump{
		name:           cfg.Name,
		receiver:       cfg.Receiver,
		flush:          cfg.Flush,
		handler:        cfg.Handler,
		recoverability: cfg.Recoverability,
		notifier:       cfg.Notifier,
		critical:       cfg.Critical,
		sem:            semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:            cfg.Log,
	}
}

// Run receives until ctx is cancelled, then waits for in-flight messages.
func (p *Pump) Run(ctx context.Context) error {
	p.log.Info("Receive pump started", "endpoint", p.name)
	defer func() {
		p.wg.Wait()
		p.log.Info("Receive pump stopped", "endpoint", p.name)
	}()

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		d, err := p.receiver.Receive(ctx)
		if ctx.Err() != nil {
			p.sem.Release(1)
			return nil
		}
		if err != nil {
			p.sem.Release(1)
			p.log.Warn("Receive failed", "endpoint", p.name, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			p.sem.Release(1)
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.Process(ctx, d)
		}()
	}
}

// Process handles one delivery, retrying in place while the recoverability
// policy asks for it.
func (p *Pump) Process(ctx context.Context, d *transport.Delivery) {
	for attempts := 1; ; attempts++ {
		err := p.invoke(ctx, d.Message)
		if err == nil {
			p.complete(ctx, d, OutcomeSuccess)
			return
		}

		ec := recovery.NewErrorContext(err, d.Message, d.Transaction, attempts)
		retry, invokeErr := p.recoverability.Invoke(ctx, ec, p.notifier)
		if invokeErr != nil {
			if rbErr := d.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				p.log.Error("Failed to roll back receive", "message_id", d.Message.MessageID, "error", rbErr)
			}
			metrics.MessagesProcessed.WithLabelValues(p.name, OutcomeError).Inc()
			if errors.Is(invokeErr, context.Canceled) || errors.Is(invokeErr, context.DeadlineExceeded) {
				return
			}
			p.critical.Raise("Failed to execute recoverability policy for message "+d.Message.MessageID, invokeErr)
			return
		}
		if !retry {
			p.complete(ctx, d, OutcomeRecovered)
			return
		}

		metrics.ImmediateRetries.WithLabelValues(p.name).Inc()
		p.log.Debug("Retrying message immediately", "message_id", d.Message.MessageID, "attempt", attempts)
	}
}

func (p *Pump) invoke(ctx context.Context, msg *domain.IncomingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.handler.Handle(ctx, msg)
}

func (p *Pump) complete(ctx context.Context, d *transport.Delivery, outcome string) {
	if err := d.Commit(context.WithoutCancel(ctx), p.flush); err != nil {
		p.log.Error("Failed to commit receive", "message_id", d.Message.MessageID, "error", err)
		if rbErr := d.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			p.log.Error("Failed to roll back receive", "message_id", d.Message.MessageID, "error", rbErr)
		}
		metrics.MessagesProcessed.WithLabelValues(p.name, OutcomeError).Inc()
		return
	}
	metrics.MessagesProcessed.WithLabelValues(p.name, outcome).Inc()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
