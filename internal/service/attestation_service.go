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

// AttestationService owns the Booked → Attested → {Finalized, Disputed}
// half of the booking state machine: outcome reporting, bonded challenges,
// the no-attestation escape hatch and final payout.
type AttestationService struct {
	repo     domain.Repository
	acct     domain.Accounting
	eventBus domain.EventPublisher
	clock    domain.Clock
	attester string
	treasury string
	logger   *zerolog.Logger
}

func NewAttestationService(repo domain.Repository, acct domain.Accounting, eventBus domain.EventPublisher, clock domain.Clock, attester, treasury string, logger *zerolog.Logger) *AttestationService {
	return &AttestationService{
		repo:     repo,
		acct:     acct,
		eventBus: eventBus,
		clock:    clock,
		attester: attester,
		treasury: treasury,
		logger:   logger,
	}
}

// Attest records the attester's outcome for a booked session. The timing
// window depends on the outcome: completed sessions need the minimum overlap
// met and close two hours after the scheduled end; no-shows open once the
// grace period lapses and close a session-length later.
func (s *AttestationService) Attest(ctx context.Context, caller string, bookingID int64, outcome, evidenceRef string) error {
	if caller != s.attester {
		return fmt.Errorf("%w: attest requires the attester account", ErrUnauthorized)
	}
	if !models.ValidOutcome(outcome) {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidParams, outcome)
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusBooked {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}

	now := s.clock.Now().Unix()
	switch outcome {
	case models.OutcomeCompleted:
		lo := slot.StartTime + slot.MinOverlapMins*60
		hi := slot.EndTime() + models.CompletedAttestSlackSecs
		if now < lo {
			return fmt.Errorf("%w: overlap not met", ErrTooEarly)
		}
		if now > hi {
			return fmt.Errorf("%w: attestation window closed", ErrTooLate)
		}
	default:
		lo := slot.StartTime + slot.GraceMins*60
		hi := lo + slot.DurationMins*60
		if now < lo {
			return fmt.Errorf("%w: grace not over", ErrTooEarly)
		}
		if now > hi {
			return fmt.Errorf("%w: no-show window closed", ErrTooLate)
		}
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	attested := *booking
	attested.Status = models.BookingStatusAttested
	attested.Outcome = outcome
	attested.EvidenceRef = evidenceRef
	attested.FinalizableAt = now + settings.ChallengeWindowSecs

	t := &models.Transition{
		Op:       "attest",
		Bookings: []models.BookingChange{{Booking: &attested, FromStatus: models.BookingStatusBooked}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventBookingAttested, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: slot.Host,
		Amount: booking.Amount, Status: attested.Status, Outcome: outcome,
		FinalizableAt: attested.FinalizableAt, ActedBy: caller,
	})
	return nil
}

// Challenge escrows the fixed bond and moves an attested booking into
// dispute. Only the booking's guest or the slot's host may challenge, and
// only while the challenge window is still open.
func (s *AttestationService) Challenge(ctx context.Context, caller string, bookingID, bond int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusAttested {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}
	if !booking.IsParty(slot, caller) {
		return fmt.Errorf("%w: only the guest or host may challenge", ErrUnauthorized)
	}

	now := s.clock.Now().Unix()
	if now >= booking.FinalizableAt {
		return fmt.Errorf("%w: challenge window closed", ErrTooLate)
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}
	if bond != settings.ChallengeBond {
		return fmt.Errorf("%w: challenge bond is %d, got %d", ErrAmountMismatch, settings.ChallengeBond, bond)
	}

	disputed := *booking
	disputed.Status = models.BookingStatusDisputed
	disputed.Challenger = caller
	disputed.Bond = bond
	disputed.DisputedAt = now

	t := &models.Transition{
		Op:           "challenge",
		Bookings:     []models.BookingChange{{Booking: &disputed, FromStatus: models.BookingStatusAttested}},
		HeldDelta:    bond,
		BalanceDelta: bond,
		Transfers: []models.Transfer{{
			Kind: models.TransferEscrowIn, From: caller, Amount: bond, BookingID: bookingID,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventBookingChallenged, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: slot.Host,
		Amount: booking.Amount, Status: disputed.Status, Outcome: booking.Outcome,
		Bond: bond, ActedBy: caller,
	})
	return nil
}

// ClaimIfUnattested refunds the guest when no attestation ever arrived and
// the no-attestation buffer has passed. The slot is cancelled rather than
// settled since no outcome was ever reported.
func (s *AttestationService) ClaimIfUnattested(ctx context.Context, caller string, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusBooked {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}
	if !booking.IsParty(slot, caller) {
		return fmt.Errorf("%w: only the guest or host may claim", ErrUnauthorized)
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().Unix()
	if now < slot.EndTime()+settings.NoAttestBufferSecs {
		return fmt.Errorf("%w: attestation still possible", ErrTooEarly)
	}

	finalized := *booking
	finalized.Status = models.BookingStatusFinalized
	cancelledSlot := *slot
	cancelledSlot.Status = models.SlotStatusCancelled

	t := &models.Transition{
		Op:           "claim_unattested",
		Slots:        []models.SlotChange{{Slot: &cancelledSlot, FromStatus: models.SlotStatusBooked}},
		Bookings:     []models.BookingChange{{Booking: &finalized, FromStatus: models.BookingStatusBooked}},
		HeldDelta:    -booking.Amount,
		BalanceDelta: -booking.Amount,
		Transfers: []models.Transfer{{
			Kind: models.TransferPayout, To: booking.Guest, Amount: booking.Amount, BookingID: bookingID,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventBookingFinalized, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: slot.Host,
		Amount: booking.Amount, Status: models.BookingStatusFinalized, ActedBy: caller,
	})
	return nil
}

// Finalize disburses the escrowed amount according to the effective outcome
// once the booking is attested-and-unchallenged or resolved, and the
// finalizable time has been reached. Anyone may trigger it.
func (s *AttestationService) Finalize(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusAttested && booking.Status != models.BookingStatusResolved {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	now := s.clock.Now().Unix()
	if now < booking.FinalizableAt {
		return fmt.Errorf("%w: challenge window still open", ErrTooEarly)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	finalized := *booking
	finalized.Status = models.BookingStatusFinalized
	settledSlot := *slot
	settledSlot.Status = models.SlotStatusSettled

	t := &models.Transition{
		Op:           "finalize",
		Slots:        []models.SlotChange{{Slot: &settledSlot, FromStatus: models.SlotStatusBooked}},
		Bookings:     []models.BookingChange{{Booking: &finalized, FromStatus: booking.Status}},
		HeldDelta:    -booking.Amount,
		BalanceDelta: -booking.Amount,
		Transfers:    settlementTransfers(booking, slot, settings.FeeBps, s.treasury),
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventBookingFinalized, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: slot.Host,
		Amount: booking.Amount, Status: models.BookingStatusFinalized, Outcome: booking.Outcome,
	})
	return nil
}

func (s *AttestationService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

// settlementTransfers computes the payout split for the booking's effective
// outcome. Completed sessions pay the host minus the platform fee; a host
// no-show refunds the guest in full; a guest no-show pays the host in full
// (fee-free mirror of the host no-show refund).
func settlementTransfers(booking *models.Booking, slot *models.Slot, feeBps int64, treasury string) []models.Transfer {
	switch booking.Outcome {
	case models.OutcomeCompleted:
		fee := models.BpsOf(booking.Amount, feeBps)
		return appendNonZero(nil,
			models.Transfer{Kind: models.TransferPayout, To: slot.Host, Amount: booking.Amount - fee, BookingID: booking.ID},
			models.Transfer{Kind: models.TransferPayout, To: treasury, Amount: fee, BookingID: booking.ID},
		)
	case models.OutcomeNoShowHost:
		return []models.Transfer{{
			Kind: models.TransferPayout, To: booking.Guest, Amount: booking.Amount, BookingID: booking.ID,
		}}
	default: // no_show_guest
		return []models.Transfer{{
			Kind: models.TransferPayout, To: slot.Host, Amount: booking.Amount, BookingID: booking.ID,
		}}
	}
}
