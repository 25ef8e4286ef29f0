package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts attempts per buyer in fixed windows. Checkout is
// the only surface that needs throttling, so the store is a plain map pruned
// on rollover rather than a background sweeper.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]windowSlot
}

type windowSlot struct {
	count int
	reset time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowSlot),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.store[key]
	if !ok || now.After(slot.reset) {
		l.store[key] = windowSlot{count: 1, reset: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true
	}

	if slot.count >= l.limit {
		return false
	}
	slot.count++
	l.store[key] = slot
	return true
}

func (l *fixedWindowLimiter) dropExpiredLocked(now time.Time) {
	for key, slot := range l.store {
		if now.After(slot.reset) {
			delete(l.store, key)
		}
	}
}
