// File: alloc/limited.go
// Package alloc provides the per-session memory accounting primitives: a
// bounded budget that fails (never blocks) once exhausted, and a scratch
// arena for building outbound frames.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alloc

import "errors"

// ErrLimit is returned once a session's memory budget is exhausted. It is a
// hard, session-ending condition; callers must not retry the reservation.
var ErrLimit = errors.New("alloc: session memory limit exceeded")

// Factory hands out per-session budgets. It is immutable after construction
// and therefore safe to share across session threads.
type Factory struct {
	perSession int64
}

// NewFactory builds a factory whose sessions may each retain up to
// perSession bytes of tracked buffer memory.
func NewFactory(perSession int64) *Factory {
	return &Factory{perSession: perSession}
}

// NewLimited creates a fresh budget for one session. The returned value is
// owned by that session's thread and is not safe for concurrent use.
func (f *Factory) NewLimited() *Limited {
	return &Limited{limit: f.perSession}
}

// Limited tracks bytes reserved by one session against a fixed ceiling.
type Limited struct {
	limit int64
	used  int64
}

// Reserve claims n bytes from the budget.
func (l *Limited) Reserve(n int) error {
	if l.used+int64(n) > l.limit {
		return ErrLimit
	}
	l.used += int64(n)
	return nil
}

// Release returns n previously reserved bytes.
func (l *Limited) Release(n int) {
	l.used -= int64(n)
	if l.used < 0 {
		l.used = 0
	}
}

// Used reports the bytes currently reserved.
func (l *Limited) Used() int64 { return l.used }
