package models

import "time"

// Slot is a host-published, priced, bookable time window. Price is
// snapshotted from the host's base price at creation; later base price
// changes never affect an existing slot.
type Slot struct {
	ID               int64     `json:"id"`
	Host             string    `json:"host"`
	StartTime        int64     `json:"start_time"`
	DurationMins     int64     `json:"duration_mins"`
	GraceMins        int64     `json:"grace_mins"`
	MinOverlapMins   int64     `json:"min_overlap_mins"`
	CancelCutoffMins int64     `json:"cancel_cutoff_mins"`
	Price            int64     `json:"price"`
	Status           string    `json:"status"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CancelCutoff returns the unix second before which a guest cancellation
// still counts as early.
func (s *Slot) CancelCutoff() int64 {
	return s.StartTime - s.CancelCutoffMins*60
}

// EndTime returns the unix second the session is scheduled to end.
func (s *Slot) EndTime() int64 {
	return s.StartTime + s.DurationMins*60
}
