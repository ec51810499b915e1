package notify

import (
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// Event is a notification published on the Bus.
type Event interface {
	EventName() string
}

// MessageToBeRetried is raised after a retry has been decided and scheduled.
type MessageToBeRetried struct {
	// Attempt is the immediate attempt (zero based) or the delayed retry number.
	Attempt   int
	Delay     time.Duration
	Immediate bool
	Message   *domain.IncomingMessage
	Err       error
}

// EventName implements Event.
func (MessageToBeRetried) EventName() string { return "message_to_be_retried" }

// MessageFaulted is raised after a message has been moved to the error queue.
type MessageFaulted struct {
	Message *domain.IncomingMessage
	Err     error
}

// EventName implements Event.
func (MessageFaulted) EventName() string { return "message_faulted" }
