// Package dedup suppresses notifications the controller redelivers.
//
// The controller's radio stack frequently sends the same notification two or
// three times in a row. Handling a B0 or AE twice would schedule a second
// start epilogue or answer a challenge twice, so repeats are dropped before
// they reach the session.
package dedup

import (
	"encoding/hex"
	"strings"
	"time"
)

// Defaults observed to cover the controller's redelivery bursts
const (
	DefaultThreshold = 3
	DefaultTTL       = 5 * time.Second
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type record struct {
	count      int
	insertedAt time.Time
}

// Filter counts identical frames within a trailing window.
//
// The Nth and later occurrences of the same bytes (N = threshold) are
// suppressed until the key expires, TTL after its first acceptance.
// Filter is not safe for concurrent use; the session owns it.
type Filter struct {
	threshold int
	ttl       time.Duration
	clock     Clock
	seen      map[string]*record
}

// New creates a filter. Threshold below 2 is raised to 2 so at least the
// first delivery of any frame passes.
func New(threshold int, ttl time.Duration, clock Clock) *Filter {
	if threshold < 2 {
		threshold = 2
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		threshold: threshold,
		ttl:       ttl,
		clock:     clock,
		seen:      make(map[string]*record),
	}
}

// ShouldProcess reports whether raw should be handled, recording it if so
func (f *Filter) ShouldProcess(raw []byte) bool {
	now := f.clock.Now()
	key := Key(raw)

	rec, ok := f.seen[key]
	if ok && !now.Before(rec.insertedAt.Add(f.ttl)) {
		delete(f.seen, key)
		ok = false
	}
	if !ok {
		f.seen[key] = &record{count: 1, insertedAt: now}
		return true
	}
	if rec.count >= f.threshold-1 {
		return false
	}
	rec.count++
	return true
}

// Count returns how many times raw has been accepted in the current window
func (f *Filter) Count(raw []byte) int {
	if rec, ok := f.seen[Key(raw)]; ok {
		return rec.count
	}
	return 0
}

// Sweep evicts every expired key and returns how many were removed
func (f *Filter) Sweep() int {
	now := f.clock.Now()
	removed := 0
	for key, rec := range f.seen {
		if !now.Before(rec.insertedAt.Add(f.ttl)) {
			delete(f.seen, key)
			removed++
		}
	}
	return removed
}

// Clear forgets every frame
func (f *Filter) Clear() {
	f.seen = make(map[string]*record)
}

// Len returns the number of tracked keys, expired or not
func (f *Filter) Len() int {
	return len(f.seen)
}

// Key returns the map key for raw: its uppercase hex encoding
func Key(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}
