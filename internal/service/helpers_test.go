package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sessiond/internal/database"
	"sessiond/internal/events"
	"sessiond/internal/ledger"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAttester = "attester-1"
	testTreasury = "treasury-1"
	testAdmin    = "admin-1"
	testHost     = "host-a"
	testGuest    = "guest-b"

	testFeeBps       = int64(250)
	testPenaltyBps   = int64(2000)
	testBond         = int64(500)
	testChallengeWin = int64(86_400)
	testDisputeTO    = int64(259_200)
	testNoAttestBuf  = int64(86_400)
	testBasePrice    = int64(1000)
	testNow          = int64(1_000_000)
	testSlotStart    = int64(1_600_000)
	testSlotDuration = int64(60)  // minutes
	testSlotGrace    = int64(10)  // minutes
	testSlotOverlap  = int64(30)  // minutes
	testSlotCutoff   = int64(120) // minutes
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() time.Time { return time.Unix(c.now, 0) }

func (c *fakeClock) set(unix int64) { c.now = unix }

// recordingSubmitter collects every instruction the engine confirms, and can
// be told to fail to exercise rollback.
type recordingSubmitter struct {
	transfers []models.Transfer
	err       error
}

func (r *recordingSubmitter) Submit(_ context.Context, transfers []models.Transfer) error {
	if r.err != nil {
		return r.err
	}
	r.transfers = append(r.transfers, transfers...)
	return nil
}

func (r *recordingSubmitter) reset() { r.transfers = nil }

type engine struct {
	db        *database.DB
	clock     *fakeClock
	submitter *recordingSubmitter
	acct      *ledger.Accounting

	slots    *SlotService
	bookings *BookingService
	attests  *AttestationService
	disputes *DisputeService
	requests *RequestService
	admin    *AdminService
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.EnsureSettings(context.Background(), &models.EngineSettings{
		FeeBps:               testFeeBps,
		LateCancelPenaltyBps: testPenaltyBps,
		ChallengeBond:        testBond,
		ChallengeWindowSecs:  testChallengeWin,
		DisputeTimeoutSecs:   testDisputeTO,
		NoAttestBufferSecs:   testNoAttestBuf,
	}))

	logger := zerolog.Nop()
	clock := &fakeClock{now: testNow}
	submitter := &recordingSubmitter{}
	bus := events.NewEventBus()
	acct := ledger.NewAccounting(db, submitter, testTreasury, bus, &logger)

	return &engine{
		db:        db,
		clock:     clock,
		submitter: submitter,
		acct:      acct,
		slots:     NewSlotService(db, acct, bus, &logger),
		bookings:  NewBookingService(db, acct, bus, clock, testTreasury, &logger),
		attests:   NewAttestationService(db, acct, bus, clock, testAttester, testTreasury, &logger),
		disputes:  NewDisputeService(db, acct, bus, clock, []string{testAdmin}, &logger),
		requests:  NewRequestService(db, acct, bus, clock, &logger),
		admin:     NewAdminService(db, acct, []string{testAdmin}, &logger),
	}
}

func (e *engine) slotParams() SlotParams {
	return SlotParams{
		StartTime:        testSlotStart,
		DurationMins:     testSlotDuration,
		GraceMins:        testSlotGrace,
		MinOverlapMins:   testSlotOverlap,
		CancelCutoffMins: testSlotCutoff,
	}
}

// openSlot publishes one slot for the default host at the default price.
func (e *engine) openSlot(t *testing.T) *models.Slot {
	t.Helper()
	require.NoError(t, e.slots.SetBasePrice(context.Background(), testHost, testBasePrice))
	slot, err := e.slots.CreateSlots(context.Background(), testHost, e.slotParams(), 1)
	require.NoError(t, err)
	return slot
}

// book escrows the default guest into a fresh slot.
func (e *engine) book(t *testing.T) (*models.Slot, *models.Booking) {
	t.Helper()
	slot := e.openSlot(t)
	booking, err := e.bookings.Book(context.Background(), testGuest, slot.ID, slot.Price)
	require.NoError(t, err)
	return slot, booking
}

// attested books and attests with the given outcome at a valid instant.
func (e *engine) attested(t *testing.T, outcome string) (*models.Slot, *models.Booking) {
	t.Helper()
	slot, booking := e.book(t)
	if outcome == models.OutcomeCompleted {
		e.clock.set(slot.EndTime())
	} else {
		e.clock.set(slot.StartTime + testSlotGrace*60 + 1)
	}
	require.NoError(t, e.attests.Attest(context.Background(), testAttester, booking.ID, outcome, "evidence://1"))
	return slot, booking
}

func (e *engine) requireLedger(t *testing.T, held, balance int64) {
	t.Helper()
	state, err := e.db.Ledger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, held, state.Held, "held")
	assert.Equal(t, balance, state.Balance, "balance")
}

// payoutTo sums the recorded payout instructions addressed to account.
func (e *engine) payoutTo(account string) int64 {
	var sum int64
	for _, tr := range e.submitter.transfers {
		if tr.Kind == models.TransferPayout && tr.To == account {
			sum += tr.Amount
		}
	}
	return sum
}
