package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sessiond/internal/models"
)

const slotColumns = `id, host, start_time, duration_mins, grace_mins, min_overlap_mins,
	cancel_cutoff_mins, price, status, version, created_at, updated_at`

func scanSlot(row interface{ Scan(...any) error }) (*models.Slot, error) {
	var s models.Slot
	err := row.Scan(&s.ID, &s.Host, &s.StartTime, &s.DurationMins, &s.GraceMins,
		&s.MinOverlapMins, &s.CancelCutoffMins, &s.Price, &s.Status, &s.Version,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot %d: %w", id, err)
	}
	return slot, nil
}

func (db *DB) ListOpenSlots(ctx context.Context) ([]*models.Slot, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE status = ? ORDER BY start_time`,
		models.SlotStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}
