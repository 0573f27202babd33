package service

import (
	"context"
	"fmt"

	"sessiond/internal/database"
	"sessiond/internal/domain"
	"sessiond/internal/events"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// DisputeService resolves bonded challenges: by administrator ruling or by
// timeout default. Either path leaves the booking Resolved and immediately
// finalizable through the ordinary finalize flow.
type DisputeService struct {
	repo     domain.Repository
	acct     domain.Accounting
	eventBus domain.EventPublisher
	clock    domain.Clock
	admins   map[string]bool
	logger   *zerolog.Logger
}

func NewDisputeService(repo domain.Repository, acct domain.Accounting, eventBus domain.EventPublisher, clock domain.Clock, admins []string, logger *zerolog.Logger) *DisputeService {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &DisputeService{
		repo:     repo,
		acct:     acct,
		eventBus: eventBus,
		clock:    clock,
		admins:   adminSet,
		logger:   logger,
	}
}

// IsAdmin reports whether the account is a configured administrator.
func (s *DisputeService) IsAdmin(account string) bool {
	return s.admins[account]
}

// Resolve is the administrator ruling on a disputed booking. Confirming the
// original outcome forfeits the bond to the challenger's counterparty;
// overriding it returns the bond to the challenger. The amount itself stays
// escrowed until finalize.
func (s *DisputeService) Resolve(ctx context.Context, caller string, bookingID int64, finalOutcome string) error {
	if !s.IsAdmin(caller) {
		return fmt.Errorf("%w: resolve requires an administrator account", ErrUnauthorized)
	}
	if !models.ValidOutcome(finalOutcome) {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidParams, finalOutcome)
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusDisputed {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}

	bondRecipient := booking.Challenger
	if finalOutcome == booking.Outcome {
		// Challenger lost: the bond compensates the other party.
		bondRecipient = booking.Counterparty(slot, booking.Challenger)
	}

	now := s.clock.Now().Unix()
	resolved := *booking
	resolved.Status = models.BookingStatusResolved
	resolved.Outcome = finalOutcome
	resolved.Bond = 0
	resolved.FinalizableAt = now

	t := &models.Transition{
		Op:           "resolve_dispute",
		Bookings:     []models.BookingChange{{Booking: &resolved, FromStatus: models.BookingStatusDisputed}},
		HeldDelta:    -booking.Bond,
		BalanceDelta: -booking.Bond,
		Transfers: []models.Transfer{{
			Kind: models.TransferPayout, To: bondRecipient, Amount: booking.Bond, BookingID: bookingID,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Str("final_outcome", finalOutcome).
		Str("bond_recipient", bondRecipient).
		Msg("dispute resolved by administrator")

	s.publish(events.EventDisputeResolved, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: slot.Host,
		Amount: booking.Amount, Status: resolved.Status, Outcome: finalOutcome,
		Bond: booking.Bond, ActedBy: caller,
	})
	return nil
}

// ResolveByTimeout settles a dispute the administrator never ruled on: the
// original outcome stands and the bond goes back to the challenger without
// penalty, since administrator inaction should not cost the challenger.
// Anyone may trigger it once the dispute timeout has passed.
func (s *DisputeService) ResolveByTimeout(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusDisputed {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().Unix()
	if now < booking.DisputedAt+settings.DisputeTimeoutSecs {
		return fmt.Errorf("%w: dispute timeout not reached", ErrTooEarly)
	}

	resolved := *booking
	resolved.Status = models.BookingStatusResolved
	resolved.Bond = 0
	resolved.FinalizableAt = now

	t := &models.Transition{
		Op:           "resolve_dispute_timeout",
		Bookings:     []models.BookingChange{{Booking: &resolved, FromStatus: models.BookingStatusDisputed}},
		HeldDelta:    -booking.Bond,
		BalanceDelta: -booking.Bond,
		Transfers: []models.Transfer{{
			Kind: models.TransferPayout, To: booking.Challenger, Amount: booking.Bond, BookingID: bookingID,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventDisputeResolved, events.BookingEventPayload{
		BookingID: bookingID, SlotID: booking.SlotID, Guest: booking.Guest,
		Amount: booking.Amount, Status: resolved.Status, Outcome: booking.Outcome,
		Bond: booking.Bond,
	})
	return nil
}

func (s *DisputeService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
