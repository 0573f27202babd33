package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sessiond/internal/models"
)

func (db *DB) GetSettings(ctx context.Context) (*models.EngineSettings, error) {
	var s models.EngineSettings
	err := db.db.QueryRowContext(ctx,
		`SELECT fee_bps, late_cancel_penalty_bps, challenge_bond, challenge_window_secs,
                dispute_timeout_secs, no_attest_buffer_secs, version
         FROM engine_settings WHERE id = 1`).
		Scan(&s.FeeBps, &s.LateCancelPenaltyBps, &s.ChallengeBond, &s.ChallengeWindowSecs,
			&s.DisputeTimeoutSecs, &s.NoAttestBufferSecs, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engine settings: %w", err)
	}
	return &s, nil
}

func (db *DB) SaveSettings(ctx context.Context, settings *models.EngineSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO engine_settings (id, fee_bps, late_cancel_penalty_bps, challenge_bond,
                challenge_window_secs, dispute_timeout_secs, no_attest_buffer_secs, version)
         VALUES (1, ?, ?, ?, ?, ?, ?, 1)
         ON CONFLICT(id) DO UPDATE SET
                fee_bps = excluded.fee_bps,
                late_cancel_penalty_bps = excluded.late_cancel_penalty_bps,
                challenge_bond = excluded.challenge_bond,
                challenge_window_secs = excluded.challenge_window_secs,
                dispute_timeout_secs = excluded.dispute_timeout_secs,
                no_attest_buffer_secs = excluded.no_attest_buffer_secs,
                version = engine_settings.version + 1`,
		settings.FeeBps, settings.LateCancelPenaltyBps, settings.ChallengeBond,
		settings.ChallengeWindowSecs, settings.DisputeTimeoutSecs, settings.NoAttestBufferSecs)
	if err != nil {
		return fmt.Errorf("failed to save engine settings: %w", err)
	}
	return nil
}
