// Package journal keeps the bounded in-memory history of emitted signals.
package journal

import (
	"strings"
	"sync"

	"signal-enginev1/internal/model"
)

// DefaultCapacity is the number of signals retained.
const DefaultCapacity = 500

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Filter selects signals for Recent. Empty fields match everything.
type Filter struct {
	Symbol    string
	Timeframe string
	Limit     int // 0 selects 50; capped at 200
}

// Journal is a FIFO of the most recent signals plus a pointer to the newest.
// Append and eviction happen under one lock, so readers never observe a
// latest pointer that is not also the tail of the history.
type Journal struct {
	mu       sync.RWMutex
	entries  []*model.Signal
	capacity int
	latest   *model.Signal
	total    uint64
}

// New creates a journal. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		entries:  make([]*model.Signal, 0, capacity),
		capacity: capacity,
	}
}

// Append records sig as the newest entry, evicting the oldest past capacity.
func (j *Journal) Append(sig *model.Signal) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.entries) == j.capacity {
		copy(j.entries, j.entries[1:])
		j.entries[len(j.entries)-1] = nil
		j.entries = j.entries[:len(j.entries)-1]
	}
	j.entries = append(j.entries, sig)
	j.latest = sig
	j.total++
}

// Latest returns the most recently appended signal.
func (j *Journal) Latest() (*model.Signal, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.latest, j.latest != nil
}

// Recent returns up to f.Limit matching signals, newest last.
func (j *Journal) Recent(f Filter) []*model.Signal {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	symbol := strings.ToUpper(f.Symbol)

	j.mu.RLock()
	defer j.mu.RUnlock()

	// Walk backwards so the limit keeps the newest matches.
	out := make([]*model.Signal, 0, min(limit, len(j.entries)))
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		s := j.entries[i]
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		if f.Timeframe != "" && s.Timeframe != f.Timeframe {
			continue
		}
		out = append(out, s)
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// Len returns the number of retained signals.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Total returns how many signals were ever appended.
func (j *Journal) Total() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.total
}
