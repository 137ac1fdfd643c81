// File: alloc/arena.go
// Package alloc outbound-frame scratch arena.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alloc

// Arena is a single-slot scratch buffer for constructing one outbound frame
// at a time. Reset after every send; capacity above the retain ceiling is
// dropped so a single huge reply does not pin memory for the whole session.
type Arena struct {
	buf    []byte
	retain int
}

// NewArena creates an arena that keeps at most retain bytes of capacity
// across resets.
func NewArena(retain int) *Arena {
	return &Arena{retain: retain}
}

// Bytes returns a slice of exactly n bytes backed by the arena, growing the
// backing store when needed. Contents are unspecified; callers overwrite the
// full slice.
func (a *Arena) Bytes(n int) []byte {
	if cap(a.buf) < n {
		a.buf = make([]byte, n)
	}
	a.buf = a.buf[:n]
	return a.buf
}

// Reset marks the arena reusable. Oversized backing stores are released.
func (a *Arena) Reset() {
	if cap(a.buf) > a.retain {
		a.buf = nil
		return
	}
	a.buf = a.buf[:0]
}

// Cap reports the current backing capacity, for tests and metrics.
func (a *Arena) Cap() int { return cap(a.buf) }
