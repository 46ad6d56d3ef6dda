package errorsink

import (
	"context"
	"sync"
)

// MemoryJournal keeps the most recent dispatch failures in memory.
// Suitable for testing and single-instance deployments.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*FailedDispatch
	maxSize int
	dropped int64
}

// DefaultJournalSize bounds a MemoryJournal created with size <= 0.
const DefaultJournalSize = 10000

// NewMemoryJournal creates a journal holding at most maxSize failures.
// When full, the oldest entry is evicted.
func NewMemoryJournal(maxSize int) *MemoryJournal {
	if maxSize <= 0 {
		maxSize = DefaultJournalSize
	}
	return &MemoryJournal{maxSize: maxSize}
}

// Report implements Sink.
func (j *MemoryJournal) Report(_ context.Context, err error) {
	if err == nil {
		return
	}
	fd := NewFailedDispatch(err)

	j.mu.Lock()
	defer j.mu.Unlock()

	if n := len(j.entries); n >= j.maxSize {
		// Shift in place so the evicted entry is not kept by the backing array.
		copy(j.entries, j.entries[1:])
		j.entries[n-1] = nil
		j.entries = j.entries[:n-1]
		j.dropped++
	}
	j.entries = append(j.entries, fd)
}

// List returns up to limit failures, oldest first. limit <= 0 returns all.
func (j *MemoryJournal) List(_ context.Context, limit int) ([]*FailedDispatch, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*FailedDispatch, n)
	copy(out, j.entries[:n])
	return out, nil
}

// Count returns the number of journaled failures.
func (j *MemoryJournal) Count(_ context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries), nil
}

// Evicted returns how many entries were evicted to respect maxSize.
func (j *MemoryJournal) Evicted() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.dropped
}
