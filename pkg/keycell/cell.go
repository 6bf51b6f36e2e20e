// Package keycell holds the verification key currently trusted for token
// validation.
//
// A Cell holds at most one Record. The rotator is its only writer; request
// handlers read it through Get. The guard is held only while a record pointer
// is copied in or out, never across network I/O or sleeps.
package keycell

import (
	"sync"
	"time"
)

// DefaultValidityWindow is how long a fetched key stays usable.
const DefaultValidityWindow = 72 * time.Hour

// Options configures a Cell.
type Options struct {
	// ValidityWindow is the maximum age of a usable record.
	// Zero means records never expire.
	ValidityWindow time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns Options with the default validity window.
func DefaultOptions() Options {
	return Options{ValidityWindow: DefaultValidityWindow}
}

// Cell is the shared holder of the current key record.
type Cell struct {
	window time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	record *Record
}

// New creates an empty Cell.
func New(opts Options) *Cell {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cell{
		window: opts.ValidityWindow,
		now:    now,
	}
}

// Get returns the current record if one is present and not expired.
// Returns ErrKeyUnavailable otherwise.
func (c *Cell) Get() (*Record, error) {
	rec := c.Peek()
	if rec == nil {
		return nil, ErrKeyUnavailable
	}
	if c.expired(rec) {
		return nil, ErrKeyUnavailable
	}
	return rec, nil
}

// Peek returns the stored record regardless of expiry, or nil if the cell is empty.
func (c *Cell) Peek() *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// Set replaces the stored record. A nil record is ignored.
func (c *Cell) Set(rec *Record) {
	if rec == nil {
		return
	}
	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()
}

// ValidityWindow returns the configured expiry window (zero if records never expire).
func (c *Cell) ValidityWindow() time.Duration {
	return c.window
}

func (c *Cell) expired(rec *Record) bool {
	if c.window <= 0 {
		return false
	}
	return rec.Age(c.now()) >= c.window
}
