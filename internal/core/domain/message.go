package domain

import "bytes"

// IncomingMessage is a message received from the transport.
type IncomingMessage struct {
	// MessageID is the transport-native identifier, stable across redeliveries.
	MessageID string
	Headers   Headers
	Body      []byte
}

// NewIncomingMessage builds a message, defaulting nil headers to an empty map.
func NewIncomingMessage(id string, headers Headers, body []byte) *IncomingMessage {
	if headers == nil {
		headers = Headers{}
	}
	return &IncomingMessage{MessageID: id, Headers: headers, Body: body}
}

// LogicalID prefers the MessageId header over the transport identifier.
func (m *IncomingMessage) LogicalID() string {
	if id, ok := m.Headers.Get(HeaderMessageID); ok {
		return id
	}
	return m.MessageID
}

// BodyReader returns a fresh reader positioned at the start of the body.
func (m *IncomingMessage) BodyReader() *bytes.Reader {
	return bytes.NewReader(m.Body)
}

// OutgoingMessage is a message about to be dispatched.
type OutgoingMessage struct {
	MessageID string
	Headers   Headers
	Body      []byte
}

// ToOutgoing copies the message into an outgoing one with cloned headers.
func (m *IncomingMessage) ToOutgoing() *OutgoingMessage {
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	return &OutgoingMessage{
		MessageID: m.MessageID,
		Headers:   m.Headers.Clone(),
		Body:      body,
	}
}

// ToIncoming is used by transports when a dispatched message is received again.
func (m *OutgoingMessage) ToIncoming() *IncomingMessage {
	return NewIncomingMessage(m.MessageID, m.Headers.Clone(), m.Body)
}
