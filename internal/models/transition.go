package models

const (
	TransferEscrowIn = "escrow_in"
	TransferPayout   = "payout"
	TransferSweep    = "sweep"
)

// Transfer is a single fund-movement instruction for the ledger submitter.
// From/To are opaque party accounts; the engine's own escrow account is the
// implicit counterparty of every instruction.
type Transfer struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Amount    int64  `json:"amount"`
	BookingID int64  `json:"booking_id,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
}

// SlotChange describes one slot row mutation inside a transition. For
// updates FromStatus guards the row: the commit fails with a state mismatch
// unless the row still carries that status.
type SlotChange struct {
	Slot       *Slot
	FromStatus string
	Create     bool
}

type BookingChange struct {
	Booking    *Booking
	FromStatus string
	Create     bool
}

type RequestChange struct {
	Request    *Request
	FromStatus string
	Create     bool
}

// Transition is one fully-applied state step of the engine: entity changes,
// the totalHeld delta, the escrow balance delta and the transfer
// instructions, committed all-or-nothing in a single storage transaction.
type Transition struct {
	Op           string
	Slots        []SlotChange
	Bookings     []BookingChange
	Requests     []RequestChange
	HeldDelta    int64
	BalanceDelta int64
	Transfers    []Transfer
}
