// File: ws/mask.go
// Package ws payload masking.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client-to-server payloads carry a 4-byte key XORed cyclically over the
// payload. The hot loop works a machine word at a time with the key
// broadcast across the word; the tail falls back to byte-wise XOR. XOR is
// its own inverse, so masking and unmasking are the same routine.

package ws

import "encoding/binary"

const wordSize = 8

// Mask XORs p in place with the repeating 4-byte key.
func Mask(p []byte, key [4]byte) {
	if len(p) >= wordSize {
		k := uint64(binary.LittleEndian.Uint32(key[:]))
		k |= k << 32
		for len(p) >= wordSize {
			binary.LittleEndian.PutUint64(p, binary.LittleEndian.Uint64(p)^k)
			p = p[wordSize:]
		}
	}
	// Word count is a multiple of the key length, so the tail still starts
	// at key offset zero.
	for i := range p {
		p[i] ^= key[i&3]
	}
}

// Unmask removes the mask applied by Mask.
func Unmask(p []byte, key [4]byte) { Mask(p, key) }

// maskScalar is the byte-wise reference implementation. It exists so tests
// can hold the vector path to the same output on every input.
func maskScalar(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i&3]
	}
}
