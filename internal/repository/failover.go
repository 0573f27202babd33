package repository

import (
	"context"
	"sync/atomic"
	"time"

	"sessiond/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverGuardRepository serves from the primary (redis) guard store and
// degrades to the in-memory fallback when it fails, probing the primary
// again after a minute.
type FailoverGuardRepository struct {
	primary   domain.GuardRepository
	fallback  domain.GuardRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverGuardRepository(primary, fallback domain.GuardRepository, logger *zerolog.Logger) *FailoverGuardRepository {
	return &FailoverGuardRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverGuardRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.primaryUsable() {
		ok, err := r.primary.Reserve(ctx, key, ttl)
		if err == nil {
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Reserve(ctx, key, ttl)
}

func (r *FailoverGuardRepository) CheckRateLimit(ctx context.Context, account string, limit int, window time.Duration) (bool, error) {
	if r.primaryUsable() {
		allowed, err := r.primary.CheckRateLimit(ctx, account, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, account, limit, window)
}

func (r *FailoverGuardRepository) primaryUsable() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	if time.Since(time.Unix(r.lastCheck.Load(), 0)) > time.Minute {
		r.isDown.Store(false)
		return true
	}
	return false
}

func (r *FailoverGuardRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary guard repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().Unix())
}
