package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/redeliver/internal/core/critical"
	"github.com/vietddude/redeliver/internal/recovery"
	"github.com/vietddude/redeliver/internal/transport"
)

// Handler processes one message received by a satellite.
type Handler func(ctx context.Context, d *transport.Delivery) error

// SatelliteRecoverability retries satellite messages through the transport
// and dead-letters them once they failed more than maxFailures times.
type SatelliteRecoverability struct {
	failures    *recovery.FailureInfoCache
	maxFailures int
	mover       recovery.ErrorQueueMover
	flush       transport.Dispatcher
	critical    *critical.CriticalError
	log         *slog.Logger
}

// NewSatelliteRecoverability creates the recoverability for one satellite channel.
func NewSatelliteRecoverability(
	failures *recovery.FailureInfoCache,
	maxFailures int,
	mover recovery.ErrorQueueMover,
	flush transport.Dispatcher,
	crit *critical.CriticalError,
	log *slog.Logger,
) *SatelliteRecoverability {
	if log == nil {
		log = slog.Default()
	}
	if maxFailures <= 0 {
		maxFailures = recovery.DefaultSatelliteMaxFailures
	}
	return &SatelliteRecoverability{
		failures:    failures,
		maxFailures: maxFailures,
		mover:       mover,
		flush:       flush,
		critical:    crit,
		log:         log,
	}
}

// Process runs handler for d and completes the receive. A returned error means
// the message could be neither processed nor parked.
func (s *SatelliteRecoverability) Process(ctx context.Context, d *transport.Delivery, handler Handler) error {
	id := d.Message.MessageID

	if info := s.failures.GetFailureInfo(id); info.Attempts > s.maxFailures {
		s.failures.ClearFailure(id)
		s.log.Error("Moving satellite message to error queue",
			"message_id", id,
			"attempts", info.Attempts,
			"error", info.LastErr,
		)
		err := s.mover.MoveToErrorQueue(ctx, d.Message, info.LastErr, d.Transaction)
		if err == nil {
			err = d.Commit(ctx, s.flush)
		}
		if err != nil {
			_ = d.Rollback(ctx)
			s.critical.Raise("Failed to move satellite message to error queue", err)
			return err
		}
		return nil
	}

	if err := handler(ctx, d); err != nil {
		info := s.failures.RecordFailure(id, err)
		s.log.Debug("Satellite message failed, returning it to the queue",
			"message_id", id,
			"attempts", info.Attempts,
			"error", err,
		)
		if rbErr := d.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("failed to roll back satellite message %s: %w", id, rbErr)
		}
		return nil
	}

	if err := d.Commit(ctx, s.flush); err != nil {
		info := s.failures.RecordFailure(id, err)
		s.log.Warn("Failed to commit satellite message", "message_id", id, "attempts", info.Attempts, "error", err)
		_ = d.Rollback(ctx)
		return nil
	}
	s.failures.ClearFailure(id)
	return nil
}

// Loop receives from one satellite queue until ctx is done.
type Loop struct {
	name     string
	receiver transport.Receiver
	handler  Handler
	recover  *SatelliteRecoverability
	log      *slog.Logger
}

// NewLoop creates a satellite receive loop.
func NewLoop(name string, receiver transport.Receiver, handler Handler, rec *SatelliteRecoverability, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{name: name, receiver: receiver, handler: handler, recover: rec, log: log}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Satellite started", "satellite", l.name)
	for {
		d, err := l.receiver.Receive(ctx)
		if ctx.Err() != nil {
			l.log.Info("Satellite stopped", "satellite", l.name)
			return nil
		}
		if err != nil {
			l.log.Warn("Satellite receive failed", "satellite", l.name, "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if d == nil {
			continue
		}
		if err := l.recover.Process(ctx, d, l.handler); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Error("Satellite processing failed", "satellite", l.name, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
