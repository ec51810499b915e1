package recovery

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is returned when a policy produces an action the executor cannot run.
	ErrUnknownAction = errors.New("unknown recoverability action")
)

// MessageDeserializationError marks a payload that cannot be turned into a
// message. Redelivering it cannot succeed.
type MessageDeserializationError struct {
	MessageID string
	Err       error
}

func (e *MessageDeserializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("message %s could not be deserialized", e.MessageID)
	}
	return fmt.Sprintf("message %s could not be deserialized: %v", e.MessageID, e.Err)
}

func (e *MessageDeserializationError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not go away on redelivery.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent failure: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
