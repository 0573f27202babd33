package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sessiond/internal/models"
)

const requestColumns = `id, guest, host_target, window_start, window_end, duration_mins,
	expiry, amount, status, host, slot_id, booking_id, version, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.Request, error) {
	var r models.Request
	err := row.Scan(&r.ID, &r.Guest, &r.HostTarget, &r.WindowStart, &r.WindowEnd,
		&r.DurationMins, &r.Expiry, &r.Amount, &r.Status, &r.Host, &r.SlotID,
		&r.BookingID, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	request, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request %d: %w", id, err)
	}
	return request, nil
}

func (db *DB) ListOpenRequests(ctx context.Context) ([]*models.Request, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE status = ? ORDER BY window_start`,
		models.RequestStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}
