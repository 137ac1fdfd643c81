// File: ws/writer.go
// Package ws outbound frame encoding.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server-to-client frames are never masked. Large JSON payloads are built
// into a buffer that reserves HeaderReserve bytes up front; Frame back-fills
// only the header bytes actually needed and returns the sub-slice starting
// at the right offset, so the payload is never copied a second time.

package ws

import "encoding/binary"

// HeaderReserve is the space callers leave in front of a payload for the
// largest unmasked header (2 fixed + 8 extended length bytes).
const HeaderReserve = 10

// headerSize returns the unmasked header size for a payload length.
func headerSize(payloadLen int) int {
	switch {
	case payloadLen <= 125:
		return 2
	case payloadLen <= 0xFFFF:
		return 4
	default:
		return 10
	}
}

// putHeader encodes an unmasked final-frame header into b and returns the
// header length. b must hold headerSize(payloadLen) bytes.
func putHeader(b []byte, typ MessageType, payloadLen int) int {
	b[0] = finBit | typ.opcode()
	switch {
	case payloadLen <= 125:
		b[1] = byte(payloadLen)
		return 2
	case payloadLen <= 0xFFFF:
		b[1] = len16Sentinel
		binary.BigEndian.PutUint16(b[2:], uint16(payloadLen))
		return 4
	default:
		b[1] = len64Sentinel
		binary.BigEndian.PutUint64(b[2:], uint64(payloadLen))
		return 10
	}
}

// Frame frames a payload built at offset HeaderReserve of buf. It writes the
// real header immediately before the payload and returns the wire bytes.
func Frame(typ MessageType, buf []byte) []byte {
	payloadLen := len(buf) - HeaderReserve
	off := HeaderReserve - headerSize(payloadLen)
	putHeader(buf[off:], typ, payloadLen)
	return buf[off:]
}

// AppendFrame appends a small complete frame (header and payload) to dst.
// Meant for control frames and short replies where the back-fill scheme
// buys nothing.
func AppendFrame(dst []byte, typ MessageType, payload []byte) []byte {
	var hdr [HeaderReserve]byte
	n := putHeader(hdr[:], typ, len(payload))
	dst = append(dst, hdr[:n]...)
	return append(dst, payload...)
}

// CloseFrame encodes a close frame carrying code into scratch.
func CloseFrame(scratch []byte, code uint16) []byte {
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], code)
	return AppendFrame(scratch[:0], MessageClose, body[:])
}

// MaskedFrame encodes a complete client-side frame: same header layout with
// the mask bit set, followed by the key and the masked payload. The payload
// is copied, not mutated. Only the in-repo test client sends these.
func MaskedFrame(typ MessageType, payload []byte, key [4]byte) []byte {
	n := headerSize(len(payload))
	out := make([]byte, n+4+len(payload))
	putHeader(out, typ, len(payload))
	out[1] |= maskBit
	copy(out[n:], key[:])
	copy(out[n+4:], payload)
	Mask(out[n+4:], key)
	return out
}
