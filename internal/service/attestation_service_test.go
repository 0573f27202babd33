package service

import (
	"context"
	"testing"

	"sessiond/internal/database"
	"sessiond/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttest_AttesterOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)
	e.clock.set(slot.EndTime())

	err := e.attests.Attest(ctx, testHost, booking.ID, models.OutcomeCompleted, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	err = e.attests.Attest(ctx, testAttester, booking.ID, "weird", "")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestAttest_CompletedWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)

	lo := slot.StartTime + testSlotOverlap*60
	hi := slot.EndTime() + models.CompletedAttestSlackSecs

	e.clock.set(lo - 1)
	assert.ErrorIs(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeCompleted, ""), ErrTooEarly)

	e.clock.set(hi + 1)
	assert.ErrorIs(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeCompleted, ""), ErrTooLate)

	e.clock.set(lo)
	require.NoError(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeCompleted, "evidence://7"))

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAttested, got.Status)
	assert.Equal(t, models.OutcomeCompleted, got.Outcome)
	assert.Equal(t, "evidence://7", got.EvidenceRef)
	assert.Equal(t, lo+testChallengeWin, got.FinalizableAt)

	// Аттестация денег не двигает.
	e.requireLedger(t, testBasePrice, testBasePrice)
}

func TestAttest_NoShowWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)

	lo := slot.StartTime + testSlotGrace*60
	hi := lo + testSlotDuration*60

	e.clock.set(lo - 1)
	assert.ErrorIs(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeNoShowGuest, ""), ErrTooEarly)

	e.clock.set(hi + 1)
	assert.ErrorIs(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeNoShowHost, ""), ErrTooLate)

	e.clock.set(hi)
	require.NoError(t, e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeNoShowHost, ""))
}

func TestAttest_OnlyFromBooked(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.attested(t, models.OutcomeCompleted)
	_ = slot

	err := e.attests.Attest(ctx, testAttester, booking.ID, models.OutcomeCompleted, "")
	assert.ErrorIs(t, err, database.ErrStateMismatch)
}

func TestChallenge_PartiesAndWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.attested(t, models.OutcomeCompleted)

	assert.ErrorIs(t, e.attests.Challenge(ctx, "stranger", booking.ID, testBond), ErrUnauthorized)
	assert.ErrorIs(t, e.attests.Challenge(ctx, testGuest, booking.ID, testBond-1), ErrAmountMismatch)

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)

	// Ровно на границе окно уже закрыто.
	e.clock.set(got.FinalizableAt)
	assert.ErrorIs(t, e.attests.Challenge(ctx, testGuest, booking.ID, testBond), ErrTooLate)

	e.clock.set(got.FinalizableAt - 1)
	require.NoError(t, e.attests.Challenge(ctx, testGuest, booking.ID, testBond))

	disputed, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusDisputed, disputed.Status)
	assert.Equal(t, testGuest, disputed.Challenger)
	assert.Equal(t, testBond, disputed.Bond)
	assert.Equal(t, got.FinalizableAt-1, disputed.DisputedAt)

	// Залог добавился к held.
	e.requireLedger(t, testBasePrice+testBond, testBasePrice+testBond)
}

func TestChallenge_HostMayChallengeToo(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.attested(t, models.OutcomeNoShowGuest)

	require.NoError(t, e.attests.Challenge(ctx, testHost, booking.ID, testBond))

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, testHost, got.Challenger)
}

func TestClaimIfUnattested_BufferGate(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.book(t)
	e.submitter.reset()

	deadline := slot.EndTime() + testNoAttestBuf

	e.clock.set(deadline - 1)
	assert.ErrorIs(t, e.attests.ClaimIfUnattested(ctx, testGuest, booking.ID), ErrTooEarly)
	assert.ErrorIs(t, e.attests.ClaimIfUnattested(ctx, "stranger", booking.ID), ErrUnauthorized)

	e.clock.set(deadline)
	require.NoError(t, e.attests.ClaimIfUnattested(ctx, testGuest, booking.ID))

	gotSlot, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusCancelled, gotSlot.Status)

	gotBooking, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusFinalized, gotBooking.Status)

	assert.Equal(t, testBasePrice, e.payoutTo(testGuest))
	e.requireLedger(t, 0, 0)
}

func TestClaimIfUnattested_AttestedBookingRefused(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.attested(t, models.OutcomeCompleted)

	e.clock.set(slot.EndTime() + testNoAttestBuf + 1)
	err := e.attests.ClaimIfUnattested(ctx, testGuest, booking.ID)
	assert.ErrorIs(t, err, database.ErrStateMismatch)
}

func TestFinalize_WaitsForChallengeWindow(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.attested(t, models.OutcomeCompleted)

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)

	e.clock.set(got.FinalizableAt - 1)
	assert.ErrorIs(t, e.attests.Finalize(ctx, booking.ID), ErrTooEarly)

	e.clock.set(got.FinalizableAt)
	assert.NoError(t, e.attests.Finalize(ctx, booking.ID))
}

func TestFinalize_CompletedPaysHostMinusFee(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	slot, booking := e.attested(t, models.OutcomeCompleted)
	e.submitter.reset()

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	e.clock.set(got.FinalizableAt)
	require.NoError(t, e.attests.Finalize(ctx, booking.ID))

	// 1000: комиссия 2.5% = 25.
	assert.Equal(t, int64(975), e.payoutTo(testHost))
	assert.Equal(t, int64(25), e.payoutTo(testTreasury))

	gotSlot, err := e.db.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusSettled, gotSlot.Status)

	e.requireLedger(t, 0, 0)

	// Финализация терминальна.
	assert.ErrorIs(t, e.attests.Finalize(ctx, booking.ID), database.ErrStateMismatch)
}

func TestFinalize_NoShowHostRefundsGuest(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.attested(t, models.OutcomeNoShowHost)
	e.submitter.reset()

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	e.clock.set(got.FinalizableAt)
	require.NoError(t, e.attests.Finalize(ctx, booking.ID))

	assert.Equal(t, testBasePrice, e.payoutTo(testGuest))
	assert.Equal(t, int64(0), e.payoutTo(testHost))
	assert.Equal(t, int64(0), e.payoutTo(testTreasury))
	e.requireLedger(t, 0, 0)
}

func TestFinalize_NoShowGuestPaysHostInFull(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, booking := e.attested(t, models.OutcomeNoShowGuest)
	e.submitter.reset()

	got, err := e.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	e.clock.set(got.FinalizableAt)
	require.NoError(t, e.attests.Finalize(ctx, booking.ID))

	// Неявка гостя: вся сумма хозяину, без комиссии.
	assert.Equal(t, testBasePrice, e.payoutTo(testHost))
	assert.Equal(t, int64(0), e.payoutTo(testTreasury))
	e.requireLedger(t, 0, 0)
}
