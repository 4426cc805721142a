package pipeline

import (
	"sync"

	"github.com/codezoo/codezoo/internal/pen"
)

// Buffer holds the current text of every pane. Edits land here immediately;
// compiles and saves read a Snapshot.
type Buffer struct {
	mu  sync.RWMutex
	src pen.Sources
}

// NewBuffer returns a buffer seeded with src.
func NewBuffer(src pen.Sources) *Buffer {
	return &Buffer{src: src}
}

func (b *Buffer) Get(p pen.Pane) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.src.Get(p)
}

func (b *Buffer) Set(p pen.Pane, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.src.Set(p, value)
}

// Replace swaps all three panes at once.
func (b *Buffer) Replace(src pen.Sources) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.src = src
}

// Snapshot returns a copy of the current sources.
func (b *Buffer) Snapshot() pen.Sources {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.src
}
