package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryGuardRepository is the in-process fallback for the guard store.
type MemoryGuardRepository struct {
	reservations sync.Map
	rateLimits   sync.Map
}

func NewMemoryGuardRepository() *MemoryGuardRepository {
	return &MemoryGuardRepository{}
}

type reservationEntry struct {
	expiresAt time.Time
}

func (r *MemoryGuardRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	entry := &reservationEntry{expiresAt: now.Add(ttl)}
	prev, loaded := r.reservations.LoadOrStore(key, entry)
	if !loaded {
		return true, nil
	}
	if now.After(prev.(*reservationEntry).expiresAt) {
		r.reservations.Store(key, entry)
		return true, nil
	}
	return false, nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryGuardRepository) CheckRateLimit(ctx context.Context, account string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(account)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(account, entry)
	return entry.count <= limit, nil
}
