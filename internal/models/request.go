package models

import "time"

// Request is a guest-initiated, pre-escrowed offer for a session, optionally
// targeted at a specific host. Host, SlotID and BookingID are filled in when
// a host accepts.
type Request struct {
	ID           int64     `json:"id"`
	Guest        string    `json:"guest"`
	HostTarget   string    `json:"host_target,omitempty"`
	WindowStart  int64     `json:"window_start"`
	WindowEnd    int64     `json:"window_end"`
	DurationMins int64     `json:"duration_mins"`
	Expiry       int64     `json:"expiry"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	Host         string    `json:"host,omitempty"`
	SlotID       int64     `json:"slot_id,omitempty"`
	BookingID    int64     `json:"booking_id,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Targeted reports whether the request is restricted to a single host.
func (r *Request) Targeted() bool {
	return r.HostTarget != ""
}
