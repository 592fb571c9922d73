// Package throttle provides a bounded in-memory per-key refresh throttle.
// It guards against refresh storms but is not authoritative: losing all
// entries on process restart is safe and expected.
package throttle

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the tracked key set; least-recently-used keys are
// evicted first.
const DefaultMaxEntries = 1024

// Throttle tracks the last refresh time per key with LRU eviction.
type Throttle struct {
	mu         sync.Mutex
	interval   time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	now func() time.Time // test hook
}

type entry struct {
	key        string
	lastAccess time.Time
}

// New creates a throttle with the given minimum interval between refreshes.
func New(interval time.Duration) *Throttle {
	return NewWithCapacity(interval, DefaultMaxEntries)
}

// NewWithCapacity creates a throttle with an explicit entry bound.
func NewWithCapacity(interval time.Duration, maxEntries int) *Throttle {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Throttle{
		interval:   interval,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Allow reports whether key may refresh now and, if so, records the refresh.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if el, ok := t.entries[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.lastAccess) < t.interval {
			return false
		}
		e.lastAccess = now
		t.order.MoveToFront(el)
		return true
	}

	el := t.order.PushFront(&entry{key: key, lastAccess: now})
	t.entries[key] = el
	if t.order.Len() > t.maxEntries {
		oldest := t.order.Back()
		if oldest != nil {
			t.order.Remove(oldest)
			delete(t.entries, oldest.Value.(*entry).key)
		}
	}
	return true
}

// Forget drops a key, letting the next Allow succeed immediately.
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		t.order.Remove(el)
		delete(t.entries, key)
	}
}

// Len returns the tracked key count.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
