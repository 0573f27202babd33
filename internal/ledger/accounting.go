package ledger

import (
	"context"
	"errors"
	"fmt"

	"sessiond/internal/domain"
	"sessiond/internal/events"
	"sessiond/internal/metrics"
	"sessiond/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoSurplus means sweep found nothing above totalHeld to recover.
var ErrNoSurplus = errors.New("no surplus to sweep")

// Accounting is the single gate for fund-moving transitions: it threads
// every held/balance delta and transfer instruction through one atomic
// storage step and confirms the instructions against the ledger submitter
// inside that step. Escrowed funds never move except through here.
type Accounting struct {
	repo      domain.Repository
	submitter domain.Submitter
	treasury  string
	eventBus  domain.EventPublisher
	logger    *zerolog.Logger
}

func NewAccounting(repo domain.Repository, submitter domain.Submitter, treasury string, eventBus domain.EventPublisher, logger *zerolog.Logger) *Accounting {
	return &Accounting{
		repo:      repo,
		submitter: submitter,
		treasury:  treasury,
		eventBus:  eventBus,
		logger:    logger,
	}
}

func (a *Accounting) Apply(ctx context.Context, t *models.Transition) error {
	for i := range t.Transfers {
		if t.Transfers[i].ID == "" {
			t.Transfers[i].ID = uuid.NewString()
		}
	}

	err := a.repo.ApplyTransition(ctx, t, func(transfers []models.Transfer) error {
		if a.submitter == nil || len(transfers) == 0 {
			return nil
		}
		return a.submitter.Submit(ctx, transfers)
	})
	if err != nil {
		metrics.IncOp(t.Op, "error")
		return err
	}

	metrics.IncOp(t.Op, "ok")
	a.refreshGauges(ctx)
	return nil
}

// Sweep transfers (balance - totalHeld) to the treasury. It never touches
// escrowed value: the held scalar is unchanged and the invariant check in
// the storage layer rejects anything that would dip below it.
func (a *Accounting) Sweep(ctx context.Context) (int64, error) {
	st, err := a.repo.Ledger(ctx)
	if err != nil {
		return 0, err
	}
	surplus := st.Balance - st.Held
	if surplus <= 0 {
		return 0, ErrNoSurplus
	}

	t := &models.Transition{
		Op:           "sweep",
		BalanceDelta: -surplus,
		Transfers: []models.Transfer{{
			Kind:   models.TransferSweep,
			To:     a.treasury,
			Amount: surplus,
		}},
	}
	if err := a.Apply(ctx, t); err != nil {
		return 0, fmt.Errorf("sweep failed: %w", err)
	}

	a.logger.Info().Int64("surplus", surplus).Str("treasury", a.treasury).Msg("swept ledger surplus")

	if a.eventBus != nil {
		_ = a.eventBus.PublishJSON(events.EventFundsSwept, events.SweepEventPayload{
			Amount:   surplus,
			Treasury: a.treasury,
		})
	}
	return surplus, nil
}

// Snapshot returns the current held/balance pair.
func (a *Accounting) Snapshot(ctx context.Context) (*models.LedgerState, error) {
	return a.repo.Ledger(ctx)
}

func (a *Accounting) refreshGauges(ctx context.Context) {
	st, err := a.repo.Ledger(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("ledger gauge refresh failed")
		return
	}
	metrics.SetLedger(st.Held, st.Balance)
}
