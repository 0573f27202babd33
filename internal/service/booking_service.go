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

type BookingService struct {
	repo     domain.Repository
	acct     domain.Accounting
	eventBus domain.EventPublisher
	clock    domain.Clock
	treasury string
	logger   *zerolog.Logger
}

func NewBookingService(repo domain.Repository, acct domain.Accounting, eventBus domain.EventPublisher, clock domain.Clock, treasury string, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:     repo,
		acct:     acct,
		eventBus: eventBus,
		clock:    clock,
		treasury: treasury,
		logger:   logger,
	}
}

// Book reserves an open slot for the guest. Payment must equal the slot's
// snapshotted price exactly; the full amount is escrowed.
func (s *BookingService) Book(ctx context.Context, guest string, slotID, payment int64) (*models.Booking, error) {
	if guest == "" {
		return nil, fmt.Errorf("%w: guest account is required", ErrInvalidParams)
	}

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != models.SlotStatusOpen {
		return nil, fmt.Errorf("slot %d is %s: %w", slotID, slot.Status, database.ErrStateMismatch)
	}
	if payment != slot.Price {
		return nil, fmt.Errorf("%w: slot price is %d, got %d", ErrAmountMismatch, slot.Price, payment)
	}

	booked := *slot
	booked.Status = models.SlotStatusBooked
	booking := &models.Booking{
		SlotID: slot.ID,
		Guest:  guest,
		Amount: slot.Price,
		Status: models.BookingStatusBooked,
	}

	t := &models.Transition{
		Op:           "book",
		Slots:        []models.SlotChange{{Slot: &booked, FromStatus: models.SlotStatusOpen}},
		Bookings:     []models.BookingChange{{Booking: booking, Create: true}},
		HeldDelta:    slot.Price,
		BalanceDelta: slot.Price,
		Transfers: []models.Transfer{{
			Kind:   models.TransferEscrowIn,
			From:   guest,
			Amount: slot.Price,
		}},
	}
	if err := s.acct.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.publish(events.EventBookingBooked, events.BookingEventPayload{
		BookingID: booking.ID, SlotID: slot.ID, Guest: guest, Host: slot.Host,
		Amount: booking.Amount, Status: booking.Status, ActedBy: guest,
	})
	return booking, nil
}

// CancelAsGuest unwinds a booking on the guest's initiative. Before the
// slot's cancellation cutoff the refund is full and the slot reopens; at or
// after the cutoff the late-cancellation split applies and the slot settles.
func (s *BookingService) CancelAsGuest(ctx context.Context, guest string, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Guest != guest {
		return fmt.Errorf("%w: only the booking guest may cancel it", ErrUnauthorized)
	}
	if booking.Status != models.BookingStatusBooked {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().Unix()
	finalized := *booking
	finalized.Status = models.BookingStatusFinalized
	updatedSlot := *slot

	t := &models.Transition{
		Op:           "cancel_booking_guest",
		Bookings:     []models.BookingChange{{Booking: &finalized, FromStatus: models.BookingStatusBooked}},
		HeldDelta:    -booking.Amount,
		BalanceDelta: -booking.Amount,
	}

	if now < slot.CancelCutoff() {
		// Early: full refund, slot becomes rebookable.
		updatedSlot.Status = models.SlotStatusOpen
		t.Slots = []models.SlotChange{{Slot: &updatedSlot, FromStatus: models.SlotStatusBooked}}
		t.Transfers = []models.Transfer{{
			Kind: models.TransferPayout, To: guest, Amount: booking.Amount, BookingID: bookingID,
		}}
	} else {
		// Late: penalty and fee go to the treasury, the host keeps the rest.
		penalty := models.BpsOf(booking.Amount, settings.LateCancelPenaltyBps)
		hostGross := booking.Amount - penalty
		fee := models.BpsOf(hostGross, settings.FeeBps)

		updatedSlot.Status = models.SlotStatusSettled
		t.Slots = []models.SlotChange{{Slot: &updatedSlot, FromStatus: models.SlotStatusBooked}}
		t.Transfers = appendNonZero(nil,
			models.Transfer{Kind: models.TransferPayout, To: slot.Host, Amount: hostGross - fee, BookingID: bookingID},
			models.Transfer{Kind: models.TransferPayout, To: s.treasury, Amount: penalty + fee, BookingID: bookingID},
		)
	}

	if err := s.acct.Apply(ctx, t); err != nil {
		return err
	}

	s.publish(events.EventBookingCancelled, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: guest, Host: slot.Host,
		Amount: booking.Amount, Status: models.BookingStatusFinalized, ActedBy: guest,
	})
	return nil
}

// CancelAsHost lets the host void a booking before any attestation. The
// guest is always refunded in full and the slot is cancelled, not settled.
func (s *BookingService) CancelAsHost(ctx context.Context, host string, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	slot, err := s.repo.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return err
	}
	if slot.Host != host {
		return fmt.Errorf("%w: only the slot host may cancel the booking", ErrUnauthorized)
	}
	if booking.Status != models.BookingStatusBooked {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, database.ErrStateMismatch)
	}

	finalized := *booking
	finalized.Status = models.BookingStatusFinalized
	cancelledSlot := *slot
	cancelledSlot.Status = models.SlotStatusCancelled

	t := &models.Transition{
		Op:           "cancel_booking_host",
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

	s.publish(events.EventBookingCancelled, events.BookingEventPayload{
		BookingID: bookingID, SlotID: slot.ID, Guest: booking.Guest, Host: host,
		Amount: booking.Amount, Status: models.BookingStatusFinalized, ActedBy: host,
	})
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

// appendNonZero keeps zero-amount instructions out of the submitter stream.
func appendNonZero(dst []models.Transfer, transfers ...models.Transfer) []models.Transfer {
	for _, tr := range transfers {
		if tr.Amount > 0 {
			dst = append(dst, tr)
		}
	}
	return dst
}
