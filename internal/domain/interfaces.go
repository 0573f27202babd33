package domain

import (
	"context"
	"time"

	"sessiond/internal/models"
)

type Repository interface {
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetRequest(ctx context.Context, id int64) (*models.Request, error)
	ListOpenSlots(ctx context.Context) ([]*models.Slot, error)
	ListOpenRequests(ctx context.Context) ([]*models.Request, error)
	ListFinalizedBookings(ctx context.Context, since time.Time) ([]*models.Booking, error)
	ListTransfers(ctx context.Context, bookingID int64) ([]*models.Transfer, error)
	GetHostPrice(ctx context.Context, host string) (int64, error)
	SetHostPrice(ctx context.Context, host string, price int64) error
	GetSettings(ctx context.Context) (*models.EngineSettings, error)
	SaveSettings(ctx context.Context, settings *models.EngineSettings) error
	Ledger(ctx context.Context) (*models.LedgerState, error)
	ApplyTransition(ctx context.Context, t *models.Transition, confirm func([]models.Transfer) error) error
}

// Accounting commits fund-moving transitions. Every operation that touches
// escrowed value goes through Apply so that totalHeld and the transfer
// instructions land in the same atomic step as the entity changes.
type Accounting interface {
	Apply(ctx context.Context, t *models.Transition) error
}

// Submitter is the ledger submitter boundary: it executes the engine's
// computed fund movements against the durable account ledger. A non-nil
// error aborts (and rolls back) the transition that produced the transfers.
type Submitter interface {
	Submit(ctx context.Context, transfers []models.Transfer) error
}

// Clock supplies the current time captured once at operation entry. All
// deadline checks are lazy against this value; the engine runs no timers.
type Clock interface {
	Now() time.Time
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// GuardRepository backs the API-side idempotency and per-account rate
// limiting. Reserve returns false when the key was already taken inside ttl.
type GuardRepository interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CheckRateLimit(ctx context.Context, account string, limit int, window time.Duration) (bool, error)
}
