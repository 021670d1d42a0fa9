// Package ledger keeps the live list of recently recognized gestures.
// Entries expire after a fixed TTL; a periodic sweeper removes them
// independently of frame arrival.
package ledger

import (
	"context"
	"sync"
	"time"
)

// Entry is one recognized gesture. Entries are never mutated after insert,
// only swept.
type Entry struct {
	Label      string    `json:"label"`
	ReceivedAt time.Time `json:"received_at"`
}

// Ledger holds unexpired results in arrival order.
type Ledger struct {
	mu         sync.RWMutex
	entries    []Entry
	ttl        time.Duration
	maxEntries int

	clock func() time.Time
}

// New creates a ledger whose entries live for ttl. maxEntries bounds memory
// against a sweeper stall; zero means no bound.
func New(ttl time.Duration, maxEntries int) *Ledger {
	return &Ledger{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      time.Now,
	}
}

// Insert appends a result received at now.
func (l *Ledger) Insert(label string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{Label: label, ReceivedAt: now})
	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		keep := l.entries[len(l.entries)-l.maxEntries:]
		fresh := make([]Entry, len(keep))
		copy(fresh, keep)
		l.entries = fresh
	}
}

// Sweep removes entries older than the TTL as of now and returns how many
// were removed. Sweeping twice at the same instant is a no-op the second
// time.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.ttl)
	start := 0
	for start < len(l.entries) && !l.entries[start].ReceivedAt.After(cutoff) {
		start++
	}
	if start == 0 {
		return 0
	}
	keep := l.entries[start:]
	// Fresh backing array so swept entries do not pin memory.
	fresh := make([]Entry, len(keep))
	copy(fresh, keep)
	l.entries = fresh
	return start
}

// Snapshot returns the unexpired entries as of now, oldest first.
func (l *Ledger) Snapshot(now time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := now.Add(-l.ttl)
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.ReceivedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Labels returns the unexpired labels as of now, oldest first.
func (l *Ledger) Labels(now time.Time) []string {
	entries := l.Snapshot(now)
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.Label
	}
	return labels
}

// Len returns the number of stored (possibly expired, not yet swept) entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// RunSweeper sweeps on a fixed period until ctx is cancelled.
func (l *Ledger) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.clock())
		}
	}
}
