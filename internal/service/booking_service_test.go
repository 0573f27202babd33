package service

import (
	"context"
	"errors"
	"testing"

	"sessiond/internal/database"
	"sessiond/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_EscrowsExactPayment(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot := e.openSlot(t)

	booking, err := e.bookings.Book(ctx, testGuest, slot.ID, testBasePrice)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusBooked, booking.Status)
	assert.Equal(t, testBasePrice, booking.Amount)

	got, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusBooked, got.Status)

	e.requireLedger(t, testBasePrice, testBasePrice)
	require.Len(t, e.submitter.transfers, 1)
	assert.Equal(t, models.TransferEscrowIn, e.submitter.transfers[0].Kind)
	assert.Equal(t, testGuest, e.submitter.transfers[0].From)
	assert.Equal(t, testBasePrice, e.submitter.transfers[0].Amount)
}

func TestBook_RejectsInexactPayment(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot := e.openSlot(t)

	_, err := e.bookings.Book(ctx, testGuest, slot.ID, testBasePrice-1)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	_, err = e.bookings.Book(ctx, testGuest, slot.ID, testBasePrice+1)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	e.requireLedger(t, 0, 0)
}

func TestBook_SlotMustBeOpen(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, _ := e.book(t)

	_, err := e.bookings.Book(ctx, "guest-c", slot.ID, testBasePrice)
	assert.ErrorIs(t, err, database.ErrStateMismatch)

	_, err = e.bookings.Book(ctx, testGuest, 404, testBasePrice)
	assert.ErrorIs(t, err, database.ErrSlotNotFound)
}

func TestBook_SubmitterFailureRollsBack(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot := e.openSlot(t)

	e.submitter.err = errors.New("ledger down")
	_, err := e.bookings.Book(ctx, testGuest, slot.ID, testBasePrice)
	require.Error(t, err)

	got, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusOpen, got.Status)
	e.requireLedger(t, 0, 0)

	// После восстановления сабмиттера слот бронируется как ни в чём не бывало.
	e.submitter.err = nil
	_, err = e.bookings.Book(ctx, testGuest, slot.ID, testBasePrice)
	assert.NoError(t, err)
}

func TestCancelAsGuest_EarlyReopensSlot(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)
	e.submitter.reset()

	// Строго раньше cutoff.
	e.clock.set(slot.CancelCutoff() - 1)
	require.NoError(t, e.bookings.CancelAsGuest(ctx, testGuest, booking.ID))

	gotSlot, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusOpen, gotSlot.Status)

	gotBooking, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusFinalized, gotBooking.Status)

	e.requireLedger(t, 0, 0)
	assert.Equal(t, testBasePrice, e.payoutTo(testGuest))

	// Слот снова доступен другому гостю.
	_, err = e.bookings.Book(ctx, "guest-c", slot.ID, testBasePrice)
	assert.NoError(t, err)
}

func TestCancelAsGuest_LateSplitsAmount(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)
	e.submitter.reset()

	// Ровно в cutoff отмена уже поздняя.
	e.clock.set(slot.CancelCutoff())
	require.NoError(t, e.bookings.CancelAsGuest(ctx, testGuest, booking.ID))

	// 1000: штраф 20% = 200, комиссия 2.5% от 800 = 20.
	assert.Equal(t, int64(780), e.payoutTo(testHost))
	assert.Equal(t, int64(220), e.payoutTo(testTreasury))
	assert.Equal(t, int64(0), e.payoutTo(testGuest))

	gotSlot, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusSettled, gotSlot.Status)

	e.requireLedger(t, 0, 0)
}

func TestCancelAsGuest_GuestOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.book(t)

	assert.ErrorIs(t, e.bookings.CancelAsGuest(ctx, testHost, booking.ID), ErrUnauthorized)
	assert.ErrorIs(t, e.bookings.CancelAsGuest(ctx, "stranger", booking.ID), ErrUnauthorized)
}

func TestCancelAsGuest_TerminalBookingRefused(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)

	e.clock.set(slot.CancelCutoff() - 1)
	require.NoError(t, e.bookings.CancelAsGuest(ctx, testGuest, booking.ID))

	err := e.bookings.CancelAsGuest(ctx, testGuest, booking.ID)
	assert.ErrorIs(t, err, database.ErrStateMismatch)
}

func TestCancelAsHost_FullRefundAnySplit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)
	e.submitter.reset()

	// Даже после cutoff хозяин отменяет без штрафа для гостя.
	e.clock.set(slot.CancelCutoff() + 100)
	require.NoError(t, e.bookings.CancelAsHost(ctx, testHost, booking.ID))

	assert.Equal(t, testBasePrice, e.payoutTo(testGuest))
	assert.Equal(t, int64(0), e.payoutTo(testHost))

	gotSlot, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusCancelled, gotSlot.Status)

	e.requireLedger(t, 0, 0)
}

func TestCancelAsHost_HostOnlyAndBookedOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)

	assert.ErrorIs(t, e.bookings.CancelAsHost(ctx, testGuest, booking.ID), ErrUnauthorized)

	// Attested-бронь хозяин уже не отменяет.
	e.clock.set(slot.EndTime())
	require.NoError(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeCompleted, ""))
	assert.ErrorIs(t, e.bookings.CancelAsHost(ctx, testHost, booking.ID), database.ErrStateMismatch)
}
