// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// transcript is a fixed-capacity ring of output lines with monotone
// offsets. New lines evict the oldest when the ring is full; offsets
// keep counting, so a reader that fell behind can detect the gap from
// the offset of the first line it gets back.
//
// All methods are safe for concurrent use.
type transcript struct {
	mu       sync.Mutex
	lines    []Line
	capacity int

	// total is the number of lines ever appended. Retained lines span
	// offsets [total - min(total, capacity), total).
	total uint64
}

func newTranscript(capacity int) *transcript {
	return &transcript{
		lines:    make([]Line, capacity),
		capacity: capacity,
	}
}

// append stores one line at the next offset, evicting the oldest line
// when the ring is full.
func (t *transcript) append(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.total%uint64(t.capacity)] = Line{Offset: t.total, Text: text}
	t.total++
}

// readFrom returns all retained lines at or after offset, plus the
// offset to resume from. An offset older than the oldest retained
// line starts there instead — the caller missed the evicted lines and
// can see that from the first returned offset. An offset at or past
// the end returns no lines.
func (t *transcript) readFrom(offset uint64) ([]Line, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset >= t.total {
		return nil, t.total
	}

	retained := t.total
	if retained > uint64(t.capacity) {
		retained = uint64(t.capacity)
	}
	oldest := t.total - retained
	if offset < oldest {
		offset = oldest
	}

	out := make([]Line, 0, t.total-offset)
	for i := offset; i < t.total; i++ {
		out = append(out, t.lines[i%uint64(t.capacity)])
	}
	return out, t.total
}

// snapshot returns every retained line.
func (t *transcript) snapshot() []Line {
	lines, _ := t.readFrom(0)
	return lines
}
