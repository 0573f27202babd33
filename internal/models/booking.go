package models

import "time"

// Booking is a guest's paid reservation of a slot. Amount is immutable once
// escrowed. Bond tracks an outstanding challenge bond (0 when none or after
// the bond has been disbursed).
type Booking struct {
	ID            int64     `json:"id"`
	SlotID        int64     `json:"slot_id"`
	Guest         string    `json:"guest"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Outcome       string    `json:"outcome,omitempty"`
	EvidenceRef   string    `json:"evidence_ref,omitempty"`
	Challenger    string    `json:"challenger,omitempty"`
	Bond          int64     `json:"bond,omitempty"`
	DisputedAt    int64     `json:"disputed_at,omitempty"`
	FinalizableAt int64     `json:"finalizable_at,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsParty reports whether account is the booking's guest or the host of the
// given slot.
func (b *Booking) IsParty(slot *Slot, account string) bool {
	return account == b.Guest || (slot != nil && account == slot.Host)
}

// Counterparty returns the other party of the booking relative to account.
func (b *Booking) Counterparty(slot *Slot, account string) string {
	if account == b.Guest {
		return slot.Host
	}
	return b.Guest
}
