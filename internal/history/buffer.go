// Package history keeps the bounded window of translation lines shown to the
// viewer.
//
// [Buffer] stores lines most-recent-first and evicts strictly in FIFO order:
// once the window is full, every append drops the oldest line. Reading the
// window never promotes a line.
package history

import (
	"sync"

	"github.com/MrWong99/livetranslate/pkg/types"
)

// DefaultCapacity is the number of lines kept when no capacity is configured.
const DefaultCapacity = 50

// Buffer is a bounded, ordered store of received translation lines.
// All methods are safe for concurrent use.
type Buffer struct {
	capacity int
	onAdded  func(types.TranslationLine)

	mu    sync.Mutex
	lines []types.TranslationLine // index 0 is the most recent line
}

// New creates a Buffer holding at most capacity lines. A capacity ≤ 0 selects
// [DefaultCapacity]. onAdded, if non-nil, is called once per appended line
// with that line only, so a renderer can prepend incrementally.
func New(capacity int, onAdded func(types.TranslationLine)) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		onAdded:  onAdded,
		lines:    make([]types.TranslationLine, 0, capacity+1),
	}
}

// Append inserts line at the front and evicts from the back until the window
// fits its capacity. It returns the evicted lines, oldest last.
func (b *Buffer) Append(line types.TranslationLine) []types.TranslationLine {
	b.mu.Lock()
	b.lines = append(b.lines, types.TranslationLine{})
	copy(b.lines[1:], b.lines)
	b.lines[0] = line

	var evicted []types.TranslationLine
	for len(b.lines) > b.capacity {
		last := len(b.lines) - 1
		evicted = append(evicted, b.lines[last])
		b.lines = b.lines[:last]
	}
	b.mu.Unlock()

	if b.onAdded != nil {
		b.onAdded(line)
	}
	return evicted
}

// Snapshot returns a copy of the window, most recent line first.
func (b *Buffer) Snapshot() []types.TranslationLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.TranslationLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of lines currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Reset drops every line without notifying onAdded.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = b.lines[:0]
}
