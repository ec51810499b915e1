package recovery

import (
	"fmt"
	"time"
)

// Action is the outcome of a recoverability decision. The set is closed:
// ImmediateRetry, DelayedRetry and MoveToError are the only implementations.
type Action interface {
	fmt.Stringer
	action()
}

// ImmediateRetry redelivers within the current receive.
type ImmediateRetry struct{}

// DelayedRetry reschedules the message after Delay.
type DelayedRetry struct {
	Delay time.Duration
}

// MoveToError dead-letters the message.
type MoveToError struct{}

func (ImmediateRetry) action() {}
func (DelayedRetry) action()   {}
func (MoveToError) action()    {}

func (ImmediateRetry) String() string { return "immediate_retry" }
func (a DelayedRetry) String() string { return fmt.Sprintf("delayed_retry(%s)", a.Delay) }
func (MoveToError) String() string    { return "move_to_error" }
