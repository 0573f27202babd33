package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sessiond/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrRequestNotFound  = errors.New("request not found")
	ErrNoBasePrice      = errors.New("host has no base price set")
	ErrSettingsNotFound = errors.New("engine settings not initialized")

	// ErrStateMismatch means a guarded update found the row in a different
	// status than the transition expected. The whole transition rolls back.
	ErrStateMismatch = errors.New("entity not in required status")

	// ErrLedgerInvariant is a programming-invariant violation: a transition
	// would leave held negative or balance below held. Must be unreachable.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Одно соединение — транзакции движка сериализуются сами собой
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS slots (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host TEXT NOT NULL,
            start_time INTEGER NOT NULL,
            duration_mins INTEGER NOT NULL,
            grace_mins INTEGER NOT NULL DEFAULT 0,
            min_overlap_mins INTEGER NOT NULL DEFAULT 0,
            cancel_cutoff_mins INTEGER NOT NULL DEFAULT 0,
            price INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'open',
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            slot_id INTEGER NOT NULL,
            guest TEXT NOT NULL,
            amount INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'booked',
            outcome TEXT NOT NULL DEFAULT '',
            evidence_ref TEXT NOT NULL DEFAULT '',
            challenger TEXT NOT NULL DEFAULT '',
            bond INTEGER NOT NULL DEFAULT 0,
            disputed_at INTEGER NOT NULL DEFAULT 0,
            finalizable_at INTEGER NOT NULL DEFAULT 0,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS requests (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            guest TEXT NOT NULL,
            host_target TEXT NOT NULL DEFAULT '',
            window_start INTEGER NOT NULL,
            window_end INTEGER NOT NULL,
            duration_mins INTEGER NOT NULL,
            expiry INTEGER NOT NULL,
            amount INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'open',
            host TEXT NOT NULL DEFAULT '',
            slot_id INTEGER NOT NULL DEFAULT 0,
            booking_id INTEGER NOT NULL DEFAULT 0,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS host_prices (
            host TEXT PRIMARY KEY,
            price INTEGER NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS engine_settings (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            fee_bps INTEGER NOT NULL,
            late_cancel_penalty_bps INTEGER NOT NULL,
            challenge_bond INTEGER NOT NULL,
            challenge_window_secs INTEGER NOT NULL,
            dispute_timeout_secs INTEGER NOT NULL,
            no_attest_buffer_secs INTEGER NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS ledger (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            held INTEGER NOT NULL DEFAULT 0,
            balance INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS transfers (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            from_account TEXT NOT NULL DEFAULT '',
            to_account TEXT NOT NULL DEFAULT '',
            amount INTEGER NOT NULL,
            booking_id INTEGER NOT NULL DEFAULT 0,
            request_id INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_slots_status ON slots(status)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_host ON slots(host)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_slot_id ON bookings(slot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_booking_id ON transfers(booking_id)`,

		`INSERT OR IGNORE INTO ledger (id, held, balance) VALUES (1, 0, 0)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// EnsureSettings seeds the administrator-mutable settings on first start.
// Persisted settings win over the config seed on subsequent starts.
func (db *DB) EnsureSettings(ctx context.Context, seed *models.EngineSettings) error {
	_, err := db.GetSettings(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSettingsNotFound) {
		return err
	}
	return db.SaveSettings(ctx, seed)
}
