// Package dedup filters QoS 1 redeliveries: the same key seen twice within
// the TTL is processed only once.
package dedup

import (
	"strings"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time, max)}
}

// WithClock replaces the time source, tests only.
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
	return d
}

// Key joins the parts with '|'.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// ShouldProcess reports whether id has not been seen within the TTL and
// records it. An empty id is always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if d == nil || id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// Forget drops id so a later delivery is processed again.
func (d *Deduper) Forget(id string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evict removes expired entries first; if still over capacity the entries
// closest to expiry go.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var oldestExp time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}
