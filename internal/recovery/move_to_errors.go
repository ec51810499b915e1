package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/transport"
)

// FaultMetadata builds the static headers stamped on every dead-lettered message.
func FaultMetadata(failedQ, endpoint, hostID, hostDisplayName string) map[string]string {
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}
	if hostDisplayName == "" {
		hostDisplayName = machine
	}
	return map[string]string{
		domain.HeaderFailedQ:            failedQ,
		domain.HeaderProcessingMachine:  machine,
		domain.HeaderProcessingEndpoint: endpoint,
		domain.HeaderHostID:             hostID,
		domain.HeaderHostDisplayName:    hostDisplayName,
	}
}

// MoveToErrorsExecutor dead-letters messages to the error queue.
type MoveToErrorsExecutor struct {
	dispatcher     transport.Dispatcher
	errorQueue     string
	staticMetadata map[string]string
	now            func() time.Time
}

// MoveToErrorsOption configures a MoveToErrorsExecutor.
type MoveToErrorsOption func(*MoveToErrorsExecutor)

// WithMoveToErrorsClock overrides the time source.
func WithMoveToErrorsClock(now func() time.Time) MoveToErrorsOption {
	return func(e *MoveToErrorsExecutor) { e.now = now }
}

// NewMoveToErrorsExecutor creates the executor.
func NewMoveToErrorsExecutor(
	dispatcher transport.Dispatcher,
	errorQueue string,
	staticMetadata map[string]string,
	opts ...MoveToErrorsOption,
) *MoveToErrorsExecutor {
	e := &MoveToErrorsExecutor{
		dispatcher:     dispatcher,
		errorQueue:     errorQueue,
		staticMetadata: staticMetadata,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrorQueue is the dead-letter address.
func (e *MoveToErrorsExecutor) ErrorQueue() string { return e.errorQueue }

// MoveToErrorQueue sends a copy of message with fault headers to the error
// queue. A dispatch failure is returned; the message must not be considered
// handled in that case.
func (e *MoveToErrorsExecutor) MoveToErrorQueue(
	ctx context.Context,
	message *domain.IncomingMessage,
	cause error,
	txn *domain.TransportTransaction,
) error {
	out := message.ToOutgoing()
	for k, v := range e.staticMetadata {
		out.Headers[k] = v
	}
	setExceptionHeaders(out.Headers, cause)
	out.Headers[domain.HeaderTimeOfFailure] = domain.ToWireFormattedString(e.now())

	op := domain.TransportOperation{
		Message:     out,
		Destination: e.errorQueue,
		Consistency: domain.DispatchDefault,
	}
	if err := e.dispatcher.Dispatch(ctx, []domain.TransportOperation{op}, txn); err != nil {
		return fmt.Errorf("failed to move message %s to error queue %s: %w", message.MessageID, e.errorQueue, err)
	}
	return nil
}

func setExceptionHeaders(h domain.Headers, cause error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	h[domain.HeaderExceptionType] = fmt.Sprintf("%T", cause)
	if inner := errors.Unwrap(cause); inner != nil {
		h[domain.HeaderInnerExceptionType] = fmt.Sprintf("%T", inner)
	} else {
		delete(h, domain.HeaderInnerExceptionType)
	}
	h[domain.HeaderExceptionMessage] = cause.Error()
	h[domain.HeaderExceptionStack] = fmt.Sprintf("%+v", cause)
}
