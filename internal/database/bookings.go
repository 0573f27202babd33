package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sessiond/internal/models"
)

const bookingColumns = `id, slot_id, guest, amount, status, outcome, evidence_ref,
	challenger, bond, disputed_at, finalizable_at, version, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.SlotID, &b.Guest, &b.Amount, &b.Status, &b.Outcome,
		&b.EvidenceRef, &b.Challenger, &b.Bond, &b.DisputedAt, &b.FinalizableAt,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return booking, nil
}

func (db *DB) ListFinalizedBookings(ctx context.Context, since time.Time) ([]*models.Booking, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? AND updated_at >= ? ORDER BY id`,
		models.BookingStatusFinalized, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list finalized bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

func (db *DB) CountBookingsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}
