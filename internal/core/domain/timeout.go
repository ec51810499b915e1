package domain

import "time"

// TimeoutEntry is a message parked by the timeout relay until Time.
type TimeoutEntry struct {
	ID             string    `json:"id"             db:"id"`
	Destination    string    `json:"destination"    db:"destination"`
	Headers        Headers   `json:"headers"        db:"-"`
	State          []byte    `json:"state"          db:"state"`
	Time           time.Time `json:"time"           db:"expire_at"`
	OwningEndpoint string    `json:"owning_endpoint" db:"owning_endpoint"`
}

// IsDue reports whether the entry should be delivered at now.
func (e *TimeoutEntry) IsDue(now time.Time) bool {
	return !e.Time.After(now)
}
