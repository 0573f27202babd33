package worker

import (
	"context"
	"errors"
	"time"

	"sessiond/internal/config"
	"sessiond/internal/database"
	"sessiond/internal/ledger"
	"sessiond/internal/metrics"
	"sessiond/internal/models"

	"github.com/rs/zerolog"
)

// Reconciler periodically re-checks the ledger invariants, refreshes the
// gauges and, when enabled, sweeps surplus above totalHeld to the treasury.
// Sweep failures back off exponentially so a broken submitter is not
// hammered every tick.
type Reconciler struct {
	db       *database.DB
	acct     *ledger.Accounting
	exporter *SettlementExporter
	cfg      config.WorkerConfig
	retry    RetryPolicy
	logger   zerolog.Logger

	sweepFailures int
	sweepHoldOff  time.Time
}

func NewReconciler(db *database.DB, acct *ledger.Accounting, exporter *SettlementExporter, cfg config.WorkerConfig, logger *zerolog.Logger) *Reconciler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "reconciler").Logger()
	}

	return &Reconciler{
		db:       db,
		acct:     acct,
		exporter: exporter,
		cfg:      cfg,
		retry: RetryPolicy{
			MaxRetries:    8,
			InitialDelay:  10 * time.Second,
			MaxDelay:      10 * time.Minute,
			BackoffFactor: 2,
		},
		logger: base,
	}
}

// Start runs the reconcile loop until ctx is cancelled.
func (w *Reconciler) Start(ctx context.Context) {
	w.logger.Info().
		Dur("reconcile_interval", w.cfg.ReconcileInterval).
		Dur("export_interval", w.cfg.ExportInterval).
		Bool("auto_sweep", w.cfg.AutoSweep).
		Msg("reconciler started")
	defer w.logger.Info().Msg("reconciler stopped")

	reconcile := time.NewTicker(w.cfg.ReconcileInterval)
	defer reconcile.Stop()

	export := time.NewTicker(w.cfg.ExportInterval)
	defer export.Stop()

	if err := w.ReconcileOnce(ctx); err != nil {
		w.logger.Error().Err(err).Msg("initial reconcile failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if err := w.ReconcileOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("reconcile failed")
			}
		case <-export.C:
			if w.exporter == nil {
				continue
			}
			if _, err := w.exporter.Export(ctx, time.Now().Add(-w.cfg.ExportInterval)); err != nil {
				w.logger.Error().Err(err).Msg("settlement export failed")
			}
		}
	}
}

// ReconcileOnce performs a single pass: gauge refresh, invariant check,
// optional sweep.
func (w *Reconciler) ReconcileOnce(ctx context.Context) error {
	state, err := w.db.Ledger(ctx)
	if err != nil {
		return err
	}

	metrics.SetLedger(state.Held, state.Balance)

	disputed, err := w.db.CountBookingsByStatus(ctx, models.BookingStatusDisputed)
	if err != nil {
		return err
	}
	metrics.SetOpenDisputes(disputed)

	if state.Held < 0 || state.Balance < state.Held {
		// Сюда попадать не должны: инварианты проверяются на каждом переходе.
		w.logger.Error().
			Int64("held", state.Held).
			Int64("balance", state.Balance).
			Msg("ledger invariant violated, manual intervention required")
		return database.ErrLedgerInvariant
	}

	if w.cfg.AutoSweep {
		w.maybeSweep(ctx, state)
	}
	return nil
}

func (w *Reconciler) maybeSweep(ctx context.Context, state *models.LedgerState) {
	surplus := state.Balance - state.Held
	if surplus < w.cfg.MinSweepSurplus || surplus <= 0 {
		return
	}
	if w.retry.Exhausted(w.sweepFailures) {
		// Дальше не пробуем до рестарта, излишек остаётся на счёте.
		return
	}
	if time.Now().Before(w.sweepHoldOff) {
		return
	}

	swept, err := w.acct.Sweep(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNoSurplus) {
			return
		}
		w.sweepFailures++
		w.sweepHoldOff = time.Now().Add(w.retry.NextDelay(w.sweepFailures))
		w.logger.Warn().Err(err).Int("failures", w.sweepFailures).Time("hold_off", w.sweepHoldOff).Msg("auto-sweep failed")
		return
	}

	w.sweepFailures = 0
	w.sweepHoldOff = time.Time{}
	w.logger.Info().Int64("swept", swept).Msg("surplus swept to treasury")
}
