package engine

import (
	"sync"

	"github.com/dockfra/dockfra/internal/core/domain"
)

// DefaultLogBufferSize is how many raw subprocess lines the tail buffer
// retains.
const DefaultLogBufferSize = 2000

// LogEntry is one raw line captured from a subprocess, before any filtering.
type LogEntry struct {
	Text string  `json:"text"`
	TS   float64 `json:"ts"`
}

// LogBuffer is a fixed-size ring of the most recent subprocess output lines.
// It backs the log tail endpoint; the durable record lives in the event store.
type LogBuffer struct {
	mu    sync.Mutex
	lines []LogEntry
	next  int
	full  bool
}

// NewLogBuffer returns a ring holding up to size lines. A non-positive size
// falls back to DefaultLogBufferSize.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogBufferSize
	}
	return &LogBuffer{lines: make([]LogEntry, size)}
}

// Add appends one line, evicting the oldest when full.
func (b *LogBuffer) Add(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = LogEntry{Text: text, TS: domain.Now()}
	b.next++
	if b.next == len(b.lines) {
		b.next = 0
		b.full = true
	}
}

// Tail returns the newest n lines in chronological order. n <= 0 or n larger
// than the retained count returns everything retained.
func (b *LogBuffer) Tail(n int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.next
	if b.full {
		count = len(b.lines)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]LogEntry, 0, n)
	start := b.next - n
	if start < 0 {
		start += len(b.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, b.lines[(start+i)%len(b.lines)])
	}
	return out
}

// Len returns how many lines are currently retained.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}
