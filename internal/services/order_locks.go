package services

import "sync"

// OrderLocks serialises state transitions per order id. Entries are reference
// counted and removed once the last holder releases, so the table stays small.
type OrderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrderLocks builds an empty lock table shared across services that mutate orders.
func NewOrderLocks() *OrderLocks {
	return &OrderLocks{locks: make(map[string]*orderLock)}
}

// Acquire blocks until the per-order lock is held and returns the release func.
func (l *OrderLocks) Acquire(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderID]
	if !ok {
		entry = &orderLock{}
		l.locks[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, orderID)
			}
			l.mu.Unlock()
		})
	}
}
