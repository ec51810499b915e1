package recovery

import (
	"bytes"
	"io"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// ErrorContext is a snapshot of one failed processing attempt.
type ErrorContext struct {
	err              error
	message          *domain.IncomingMessage
	body             *bytes.Reader
	transaction      *domain.TransportTransaction
	deliveryAttempts int
}

// NewErrorContext captures a failed attempt. deliveryAttempts starts at 1.
func NewErrorContext(
	err error,
	message *domain.IncomingMessage,
	transaction *domain.TransportTransaction,
	deliveryAttempts int,
) ErrorContext {
	return ErrorContext{
		err:              err,
		message:          message,
		body:             message.BodyReader(),
		transaction:      transaction,
		deliveryAttempts: deliveryAttempts,
	}
}

// Err is the failure cause.
func (e ErrorContext) Err() error { return e.err }

// Message is the failed message.
func (e ErrorContext) Message() *domain.IncomingMessage { return e.message }

// MessageID is the transport-native identifier.
func (e ErrorContext) MessageID() string { return e.message.MessageID }

// Headers are the headers of the failed message. Do not modify them.
func (e ErrorContext) Headers() domain.Headers { return e.message.Headers }

// Body returns the payload reader, rewound to the start.
func (e ErrorContext) Body() io.ReadSeeker {
	_, _ = e.body.Seek(0, io.SeekStart)
	return e.body
}

// Transaction is the transport transaction of the failed receive.
func (e ErrorContext) Transaction() *domain.TransportTransaction { return e.transaction }

// DeliveryAttempts is the number of immediate attempts made for this receive.
func (e ErrorContext) DeliveryAttempts() int { return e.deliveryAttempts }
