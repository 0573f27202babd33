package models

const (
	SlotStatusOpen      = "open"
	SlotStatusBooked    = "booked"
	SlotStatusCancelled = "cancelled"
	SlotStatusSettled   = "settled"
)

const (
	BookingStatusBooked    = "booked"
	BookingStatusAttested  = "attested"
	BookingStatusDisputed  = "disputed"
	BookingStatusResolved  = "resolved"
	BookingStatusFinalized = "finalized"
)

const (
	RequestStatusOpen      = "open"
	RequestStatusAccepted  = "accepted"
	RequestStatusCancelled = "cancelled"
)

const (
	OutcomeCompleted   = "completed"
	OutcomeNoShowHost  = "no_show_host"
	OutcomeNoShowGuest = "no_show_guest"
)

const (
	// BpsDenominator делитель для расчётов в базисных пунктах
	BpsDenominator = 10000

	// MaxCancelCutoffMins верхняя граница cancel_cutoff_mins (7 дней)
	MaxCancelCutoffMins = 7 * 24 * 60

	// CompletedAttestSlackSecs сколько времени после конца сессии ещё
	// принимается аттестация completed
	CompletedAttestSlackSecs = 2 * 60 * 60

	// MinLeadTimeSecs минимальный зазор между "сейчас" и стартом сессии
	// для запросов и их принятия
	MinLeadTimeSecs = 60
)

// ValidOutcome reports whether s is a member of the outcome vocabulary.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeCompleted, OutcomeNoShowHost, OutcomeNoShowGuest:
		return true
	}
	return false
}
