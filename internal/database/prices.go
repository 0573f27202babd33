package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetHostPrice overwrites the host's base price. Existing slots keep their
// snapshotted price.
func (db *DB) SetHostPrice(ctx context.Context, host string, price int64) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO host_prices (host, price, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(host) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		host, price, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set host price: %w", err)
	}
	return nil
}

func (db *DB) GetHostPrice(ctx context.Context, host string) (int64, error) {
	var price int64
	err := db.db.QueryRowContext(ctx,
		`SELECT price FROM host_prices WHERE host = ?`, host).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoBasePrice
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get host price: %w", err)
	}
	return price, nil
}
