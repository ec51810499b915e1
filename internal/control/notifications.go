package control

import (
	"context"
	"log/slog"

	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/notify"
)

// subscribeBuiltins registers the metric and log subscribers every endpoint has.
func subscribeBuiltins(bus *notify.Bus, endpoint string, log *slog.Logger) {
	notify.Subscribe(bus, func(ctx context.Context, e notify.MessageToBeRetried) error {
		if e.Immediate {
			log.Debug("Message will be retried immediately",
				"message_id", e.Message.MessageID,
				"attempt", e.Attempt,
				"error", e.Err,
			)
			return nil
		}
		log.Info("Message scheduled for delayed retry",
			"message_id", e.Message.MessageID,
			"attempt", e.Attempt,
			"delay", e.Delay,
			"error", e.Err,
		)
		return nil
	})

	notify.Subscribe(bus, func(ctx context.Context, e notify.MessageFaulted) error {
		metrics.MessagesFaulted.WithLabelValues(endpoint).Inc()
		log.Warn("Message moved to error queue",
			"message_id", e.Message.MessageID,
			"error", e.Err,
		)
		return nil
	})
}
