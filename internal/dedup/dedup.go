package dedup

import (
	"time"

	"SignalScanner/internal/domain"
)

// DefaultWindowSize bounds how many message hashes are remembered.
const DefaultWindowSize = 1000

// Deduplicator rejects messages that were already observed inside a bounded
// rolling window. Membership is keyed by the content hash of
// (timestamp, sender, content); hash collisions count as the same message.
//
// The window is a FIFO set: once capacity is exceeded the oldest entry is
// evicted, so a long-running process holds bounded memory. Nothing survives a
// restart — downstream insert-if-absent storage absorbs the reprocessed tail.
type Deduplicator struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

// New builds a deduplicator with the given window capacity.
// Non-positive capacities fall back to DefaultWindowSize.
func New(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Deduplicator{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// IsDuplicate reports whether the triple was already seen, recording it as
// seen when it was not.
func (d *Deduplicator) IsDuplicate(timestamp time.Time, sender, content string) bool {
	hash := domain.MessageID(timestamp, sender, content)
	if _, ok := d.seen[hash]; ok {
		return true
	}
	d.remember(hash)
	return false
}

// Len returns the number of hashes currently tracked.
func (d *Deduplicator) Len() int {
	return len(d.order)
}

func (d *Deduplicator) remember(hash string) {
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.order = append(d.order, hash)
	d.seen[hash] = struct{}{}
}
