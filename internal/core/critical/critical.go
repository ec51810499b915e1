package critical

import (
	"log/slog"
	"sync"

	"github.com/vietddude/redeliver/internal/metrics"
)

// Action is invoked when a critical error is raised.
type Action func(message string, err error)

// CriticalError is the process-level signal for failures that leave a
// message in an ambiguous state.
type CriticalError struct {
	log    *slog.Logger
	mu     sync.Mutex
	action Action
	last   error
}

// New creates a CriticalError. A nil action only logs.
func New(log *slog.Logger, action Action) *CriticalError {
	if log == nil {
		log = slog.Default()
	}
	return &CriticalError{log: log, action: action}
}

// SetAction replaces the callback, used by the host once the root context exists.
func (c *CriticalError) SetAction(action Action) {
	c.mu.Lock()
	c.action = action
	c.mu.Unlock()
}

// Raise logs the failure and hands it to the host.
func (c *CriticalError) Raise(message string, err error) {
	c.log.Error(message, "error", err)
	metrics.CriticalErrorsTotal.Inc()

	c.mu.Lock()
	c.last = err
	action := c.action
	c.mu.Unlock()

	if action != nil {
		action(message, err)
	}
}

// Last returns the most recently raised error, if any.
func (c *CriticalError) Last() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
