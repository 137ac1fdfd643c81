// File: ws/mask_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ws

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestMaskRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	key := [4]byte{0x12, 0x34, 0x56, 0x78}

	for _, n := range []int{0, 1, 3, 4, 7, 8, 9, 15, 16, 63, 64, 65, 1024, 4097} {
		payload := make([]byte, n)
		rng.Read(payload)
		orig := append([]byte(nil), payload...)

		Mask(payload, key)
		if n > 0 && bytes.Equal(payload, orig) {
			// All-zero payloads aside, masking must change the bytes.
			allZero := true
			for _, b := range orig {
				if b != 0 {
					allZero = false
					break
				}
			}
			if !allZero {
				t.Errorf("len %d: mask left payload unchanged", n)
			}
		}
		Unmask(payload, key)
		if !bytes.Equal(payload, orig) {
			t.Errorf("len %d: unmask(mask(p)) != p", n)
		}
	}
}

func TestMaskMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		var key [4]byte
		rng.Read(key[:])
		n := rng.Intn(300)
		payload := make([]byte, n)
		rng.Read(payload)

		word := append([]byte(nil), payload...)
		scalar := append([]byte(nil), payload...)
		Mask(word, key)
		maskScalar(scalar, key)
		if !bytes.Equal(word, scalar) {
			t.Fatalf("len %d key %x: word path diverges from scalar path", n, key)
		}
	}
}

func TestMaskCycles(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	payload := make([]byte, 11) // zeroes: result must equal the repeated key
	Mask(payload, key)
	for i, b := range payload {
		if b != key[i%4] {
			t.Fatalf("byte %d: got %d, want %d", i, b, key[i%4])
		}
	}
}
