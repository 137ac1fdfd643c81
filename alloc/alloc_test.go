// File: alloc/alloc_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alloc

import (
	"errors"
	"testing"
)

func TestLimitedReserveRelease(t *testing.T) {
	l := NewFactory(100).NewLimited()

	if err := l.Reserve(60); err != nil {
		t.Fatalf("Reserve(60): %v", err)
	}
	if err := l.Reserve(40); err != nil {
		t.Fatalf("Reserve(40): %v", err)
	}
	if err := l.Reserve(1); !errors.Is(err, ErrLimit) {
		t.Fatalf("over-limit Reserve: got %v, want ErrLimit", err)
	}
	l.Release(40)
	if err := l.Reserve(30); err != nil {
		t.Fatalf("Reserve after Release: %v", err)
	}
	if l.Used() != 90 {
		t.Fatalf("Used() = %d, want 90", l.Used())
	}
}

func TestLimitedReleaseClamps(t *testing.T) {
	l := NewFactory(10).NewLimited()
	l.Release(50)
	if l.Used() != 0 {
		t.Fatalf("Used() = %d after over-release", l.Used())
	}
}

func TestArenaReuseAndRetention(t *testing.T) {
	a := NewArena(64)

	b := a.Bytes(32)
	if len(b) != 32 {
		t.Fatalf("len %d, want 32", len(b))
	}
	a.Reset()
	if a.Cap() == 0 {
		t.Fatal("capacity under the retain ceiling was dropped")
	}

	// Oversized backing stores are released on reset.
	if got := len(a.Bytes(1024)); got != 1024 {
		t.Fatalf("len %d, want 1024", got)
	}
	a.Reset()
	if a.Cap() != 0 {
		t.Fatalf("capacity %d retained above ceiling", a.Cap())
	}
}
