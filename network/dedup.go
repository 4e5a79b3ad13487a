package network

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Ledger is the bounded seen-message set that stops infinite re-broadcast
// loops. Capacity is bounded two ways: an LRU of the most recent keys and a
// time window after which a key is considered forgotten and may be witnessed
// again. The window keeps memory behavior predictable even if the same
// message keeps circulating for a long time.
type Ledger struct {
	mu     sync.Mutex
	cache  *lru.Cache
	window time.Duration
	now    func() time.Time
}

// NewLedger creates a ledger holding at most size keys for at most window.
func NewLedger(size int, window time.Duration) *Ledger {
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only fails on size <= 0
		panic(err)
	}
	return &Ledger{
		cache:  cache,
		window: window,
		now:    time.Now,
	}
}

// Witness records a dedup key. It returns true the first time a key is seen
// within the retention window; false means the message was already processed
// and must be dropped without re-broadcast.
func (l *Ledger) Witness(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.cache.Get(key); ok {
		if seenAt, ok := v.(time.Time); ok && l.now().Sub(seenAt) < l.window {
			return false
		}
	}
	l.cache.Add(key, l.now())
	return true
}

// Forget rolls back a witnessed key so the message can be legitimately
// re-received, used when a durable write failed after the dedup check.
func (l *Ledger) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Remove(key)
}

// Len reports how many keys the ledger currently holds.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
