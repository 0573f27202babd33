package ledger

import (
	"context"

	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// LogSubmitter is the default submitter: it acknowledges every instruction
// and writes it to the log. The transfer journal in storage remains the
// durable record; a real payment rail implements domain.Submitter the same
// way and is swapped in at wiring time.
type LogSubmitter struct {
	logger zerolog.Logger
}

func NewLogSubmitter(logger *zerolog.Logger) *LogSubmitter {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "submitter").Logger()
	}
	return &LogSubmitter{logger: base}
}

func (s *LogSubmitter) Submit(ctx context.Context, transfers []models.Transfer) error {
	for _, tr := range transfers {
		s.logger.Info().
			Str("transfer_id", tr.ID).
			Str("kind", tr.Kind).
			Str("from", tr.From).
			Str("to", tr.To).
			Int64("amount", tr.Amount).
			Int64("booking_id", tr.BookingID).
			Int64("request_id", tr.RequestID).
			Msg("transfer submitted")
	}
	return nil
}
