package domain

import "time"

// DispatchConsistency controls whether an operation joins the receive transaction.
type DispatchConsistency int

const (
	// DispatchDefault joins the receive transaction when the mode allows it.
	DispatchDefault DispatchConsistency = iota
	// DispatchIsolated is sent immediately, independent of the receive outcome.
	DispatchIsolated
)

func (c DispatchConsistency) String() string {
	if c == DispatchIsolated {
		return "isolated"
	}
	return "default"
}

// DeliveryConstraint restricts when or how a message is delivered.
type DeliveryConstraint interface {
	deliveryConstraint()
}

// DelayDeliveryWith asks the transport to hold the message for Delay.
type DelayDeliveryWith struct {
	Delay time.Duration
}

// DoNotDeliverBefore asks the transport to hold the message until At.
type DoNotDeliverBefore struct {
	At time.Time
}

func (DelayDeliveryWith) deliveryConstraint()  {}
func (DoNotDeliverBefore) deliveryConstraint() {}

// TransportOperation is a single message dispatch.
type TransportOperation struct {
	Message     *OutgoingMessage
	Destination string
	Consistency DispatchConsistency
	Constraints []DeliveryConstraint
}

// DeliverAt resolves the delay constraints of op relative to now.
// The zero time means deliver immediately.
func (op TransportOperation) DeliverAt(now time.Time) time.Time {
	var at time.Time
	for _, c := range op.Constraints {
		switch v := c.(type) {
		case DelayDeliveryWith:
			if t := now.Add(v.Delay); t.After(at) {
				at = t
			}
		case DoNotDeliverBefore:
			if v.At.After(at) {
				at = v.At
			}
		}
	}
	return at
}

// IsDelayed reports whether op carries a delay constraint.
func (op TransportOperation) IsDelayed() bool {
	for _, c := range op.Constraints {
		switch c.(type) {
		case DelayDeliveryWith, DoNotDeliverBefore:
			return true
		}
	}
	return false
}
