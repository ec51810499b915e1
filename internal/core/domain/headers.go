package domain

// Header keys carried on messages. Retry bookkeeping lives on the message itself
// so it survives process restarts.
const (
	HeaderMessageID   = "MessageId"
	HeaderTimeSent    = "TimeSent"
	HeaderContentType = "Content-Type"

	// HeaderRetries counts completed delayed-retry cycles, never immediate attempts.
	HeaderRetries          = "Retries"
	HeaderRetriesTimestamp = "RetriesTimestamp"

	// Timeout relay routing.
	HeaderRouteExpiredTimeoutTo = "RouteExpiredTimeoutTo"
	HeaderExpire                = "Expire"
	HeaderTimeoutID             = "Timeout.Id"
	HeaderRelatedToTimeoutID    = "RelatedToTimeoutId"
)

// Fault metadata attached when a message is moved to the error queue.
const (
	HeaderFailedQ            = "FailedQ"
	HeaderExceptionType      = "ExceptionInfo.ExceptionType"
	HeaderInnerExceptionType = "ExceptionInfo.InnerExceptionType"
	HeaderExceptionMessage   = "ExceptionInfo.Message"
	HeaderExceptionStack     = "ExceptionInfo.StackTrace"
	HeaderTimeOfFailure      = "TimeOfFailure"
	HeaderProcessingMachine  = "ProcessingMachine"
	HeaderProcessingEndpoint = "ProcessingEndpoint"
	HeaderHostID             = "HostId"
	HeaderHostDisplayName    = "HostDisplayName"
)

// Headers is the string metadata carried with a message.
// Treat it as copy-on-write: build a clone before changing anything.
type Headers map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h)+4)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Get returns the value for key and whether it was present and non-empty.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
