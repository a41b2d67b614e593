package logger

import (
	"strings"
	"sync"
)

// Ring keeps the most recent log lines in memory. slog handlers issue one
// Write per record, so each Write becomes one entry.
type Ring struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

// NewRing creates a ring holding up to size entries. A size below one
// yields a ring that keeps nothing.
func NewRing(size int) *Ring {
	if size < 0 {
		size = 0
	}
	return &Ring{entries: make([]string, size)}
}

// Write stores p as one entry, overwriting the oldest when full.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return len(p), nil
	}
	r.entries[r.next] = strings.TrimRight(string(p), "\n")
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	return len(p), nil
}

// Entries returns the stored lines, oldest first.
func (r *Ring) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string{}, r.entries[:r.next]...)
	}
	out := make([]string, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
