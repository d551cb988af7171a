package gateway

import (
	"sync"

	"signal-enginev1/internal/model"
)

// BacklogEntry is one broadcast envelope kept for replay.
type BacklogEntry struct {
	Seq  int64
	Key  model.Key
	Data []byte
}

// Backlog is a fixed-size ring of recent envelopes, oldest overwritten first.
type Backlog struct {
	mu      sync.RWMutex
	entries []BacklogEntry
	next    int
	count   int
}

// NewBacklog creates a backlog of capacity entries (default 500).
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 500
	}
	return &Backlog{entries: make([]BacklogEntry, capacity)}
}

// Push stores a copy of data under seq. Seqs must be pushed in increasing order.
func (b *Backlog) Push(seq int64, key model.Key, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	b.entries[b.next] = BacklogEntry{Seq: seq, Key: key, Data: cp}
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	b.mu.Unlock()
}

// Since returns entries with Seq > since, oldest first.
func (b *Backlog) Since(since int64) []BacklogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := b.next - b.count
	if start < 0 {
		start += len(b.entries)
	}
	var out []BacklogEntry
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%len(b.entries)]
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries held.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
