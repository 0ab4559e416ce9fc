package logger

import (
	"sync"
	"time"
)

// TailEntry represents a single buffered log entry
type TailEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Tail keeps the most recent entries in a ring buffer
type Tail struct {
	mu      sync.RWMutex
	entries []TailEntry
	next    int
	full    bool
}

// NewTail creates a tail holding up to size entries
func NewTail(size int) *Tail {
	if size <= 0 {
		size = 500
	}
	return &Tail{entries: make([]TailEntry, size)}
}

// Add appends an entry, evicting the oldest when full
func (t *Tail) Add(entry TailEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[t.next] = entry
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}
}

// Entries returns up to limit entries, oldest first. A level filter keeps
// entries at or above that level.
func (t *Tail) Entries(limit int, minLevel string) []TailEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := t.next
	start := 0
	if t.full {
		count = len(t.entries)
		start = t.next
	}

	min := DEBUG
	if minLevel != "" {
		min = parseLevel(minLevel)
	}

	result := make([]TailEntry, 0, count)
	for i := 0; i < count; i++ {
		e := t.entries[(start+i)%len(t.entries)]
		if parseLevel(e.Level) < min {
			continue
		}
		result = append(result, e)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}
