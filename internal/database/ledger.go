package database

import (
	"context"
	"fmt"
	"time"

	"sessiond/internal/models"
)

func (db *DB) Ledger(ctx context.Context) (*models.LedgerState, error) {
	var st models.LedgerState
	err := db.db.QueryRowContext(ctx,
		`SELECT held, balance FROM ledger WHERE id = 1`).Scan(&st.Held, &st.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger state: %w", err)
	}
	return &st, nil
}

func (db *DB) ListTransfers(ctx context.Context, bookingID int64) ([]*models.Transfer, error) {
	query := `SELECT id, kind, from_account, to_account, amount, booking_id, request_id
              FROM transfers`
	args := []any{}
	if bookingID != 0 {
		query += ` WHERE booking_id = ?`
		args = append(args, bookingID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.ID, &t.Kind, &t.From, &t.To, &t.Amount, &t.BookingID, &t.RequestID); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, &t)
	}
	return transfers, rows.Err()
}

// ApplyTransition commits one engine state step all-or-nothing: entity
// creates/updates (updates guarded by expected status), the ledger scalar
// deltas and the transfer journal. confirm runs inside the transaction so a
// submitter failure rolls the whole step back. Creates get their ids
// backfilled; an accept-request transition may leave SlotID/BookingID zero
// on dependent records to mean "the entity created earlier in this step".
func (db *DB) ApplyTransition(ctx context.Context, t *models.Transition, confirm func([]models.Transfer) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	var firstSlotID, firstBookingID, firstRequestID int64

	for i := range t.Slots {
		c := &t.Slots[i]
		if c.Create {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO slots (host, start_time, duration_mins, grace_mins, min_overlap_mins,
                        cancel_cutoff_mins, price, status, version, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				c.Slot.Host, c.Slot.StartTime, c.Slot.DurationMins, c.Slot.GraceMins,
				c.Slot.MinOverlapMins, c.Slot.CancelCutoffMins, c.Slot.Price, c.Slot.Status,
				now, now)
			if err != nil {
				return fmt.Errorf("failed to create slot: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get slot id: %w", err)
			}
			c.Slot.ID = id
			c.Slot.Version = 1
			if firstSlotID == 0 {
				firstSlotID = id
			}
			continue
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE slots SET status = ?, version = version + 1, updated_at = ?
             WHERE id = ? AND status = ?`,
			c.Slot.Status, now, c.Slot.ID, c.FromStatus)
		if err != nil {
			return fmt.Errorf("failed to update slot %d: %w", c.Slot.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("slot %d: %w", c.Slot.ID, ErrStateMismatch)
		}
	}

	for i := range t.Bookings {
		c := &t.Bookings[i]
		if c.Create {
			if c.Booking.SlotID == 0 {
				c.Booking.SlotID = firstSlotID
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO bookings (slot_id, guest, amount, status, outcome, evidence_ref,
                        challenger, bond, disputed_at, finalizable_at, version, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				c.Booking.SlotID, c.Booking.Guest, c.Booking.Amount, c.Booking.Status,
				c.Booking.Outcome, c.Booking.EvidenceRef, c.Booking.Challenger, c.Booking.Bond,
				c.Booking.DisputedAt, c.Booking.FinalizableAt, now, now)
			if err != nil {
				return fmt.Errorf("failed to create booking: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get booking id: %w", err)
			}
			c.Booking.ID = id
			c.Booking.Version = 1
			if firstBookingID == 0 {
				firstBookingID = id
			}
			continue
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, outcome = ?, evidence_ref = ?, challenger = ?,
                    bond = ?, disputed_at = ?, finalizable_at = ?, version = version + 1, updated_at = ?
             WHERE id = ? AND status = ?`,
			c.Booking.Status, c.Booking.Outcome, c.Booking.EvidenceRef, c.Booking.Challenger,
			c.Booking.Bond, c.Booking.DisputedAt, c.Booking.FinalizableAt, now,
			c.Booking.ID, c.FromStatus)
		if err != nil {
			return fmt.Errorf("failed to update booking %d: %w", c.Booking.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("booking %d: %w", c.Booking.ID, ErrStateMismatch)
		}
	}

	for i := range t.Requests {
		c := &t.Requests[i]
		if c.Create {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO requests (guest, host_target, window_start, window_end, duration_mins,
                        expiry, amount, status, host, slot_id, booking_id, version, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				c.Request.Guest, c.Request.HostTarget, c.Request.WindowStart, c.Request.WindowEnd,
				c.Request.DurationMins, c.Request.Expiry, c.Request.Amount, c.Request.Status,
				c.Request.Host, c.Request.SlotID, c.Request.BookingID, now, now)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get request id: %w", err)
			}
			c.Request.ID = id
			c.Request.Version = 1
			if firstRequestID == 0 {
				firstRequestID = id
			}
			continue
		}

		if c.Request.SlotID == 0 {
			c.Request.SlotID = firstSlotID
		}
		if c.Request.BookingID == 0 {
			c.Request.BookingID = firstBookingID
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, host = ?, slot_id = ?, booking_id = ?,
                    version = version + 1, updated_at = ?
             WHERE id = ? AND status = ?`,
			c.Request.Status, c.Request.Host, c.Request.SlotID, c.Request.BookingID, now,
			c.Request.ID, c.FromStatus)
		if err != nil {
			return fmt.Errorf("failed to update request %d: %w", c.Request.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("request %d: %w", c.Request.ID, ErrStateMismatch)
		}
	}

	if t.HeldDelta != 0 || t.BalanceDelta != 0 {
		var held, balance int64
		if err := tx.QueryRowContext(ctx,
			`SELECT held, balance FROM ledger WHERE id = 1`).Scan(&held, &balance); err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		held += t.HeldDelta
		balance += t.BalanceDelta
		if held < 0 || balance < held {
			return fmt.Errorf("op %s (held %d, balance %d): %w", t.Op, held, balance, ErrLedgerInvariant)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ledger SET held = ?, balance = ? WHERE id = 1`, held, balance); err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
	}

	for i := range t.Transfers {
		tr := &t.Transfers[i]
		if tr.BookingID == 0 && firstBookingID != 0 {
			tr.BookingID = firstBookingID
		}
		if tr.RequestID == 0 && firstRequestID != 0 {
			tr.RequestID = firstRequestID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transfers (id, kind, from_account, to_account, amount, booking_id, request_id, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tr.ID, tr.Kind, tr.From, tr.To, tr.Amount, tr.BookingID, tr.RequestID, now); err != nil {
			return fmt.Errorf("failed to journal transfer: %w", err)
		}
	}

	if confirm != nil {
		if err := confirm(t.Transfers); err != nil {
			return fmt.Errorf("submitter rejected transfers: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}
