package transport

import (
	"sync"
	"time"
)

// Deduper suppresses duplicate webhook deliveries within a TTL window.
// Platforms redeliver on slow acks; the first delivery wins.
type Deduper struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDeduper creates a deduper with the given window.
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{ttl: ttl, seen: make(map[string]time.Time)}
}

// Seen records key and reports whether it was already delivered within the
// window. Expired entries are pruned lazily.
func (d *Deduper) Seen(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}
