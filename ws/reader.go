// File: ws/reader.go
// Package ws incremental frame reader.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reader owns one growable buffer the connection reads raw bytes into.
// Next decodes as many buffered frames as possible per call; "no complete
// message yet" is not an error. All buffer growth is accounted against the
// session's memory budget, and every decoded payload is a borrowed slice
// valid only until the next call into the reader.

package ws

import (
	"encoding/binary"

	"github.com/momentics/cdpserve/alloc"
)

// InitialBufferSize is the starting capacity of the read buffer. It matches
// the HTTP request ceiling so the pre-upgrade phase never grows the buffer.
const InitialBufferSize = 4096

// fragments accumulates payload bytes across continuation frames. At most
// one accumulator exists per reader; fragmented sequences never nest.
type fragments struct {
	typ      MessageType
	data     []byte
	reserved int
}

// Reader is a stateful incremental WebSocket message decoder.
//
// Invariant: 0 <= pos <= end <= len(buf). buf[pos:end] holds unconsumed
// bytes, buf[end:] is writable tail.
type Reader struct {
	buf    []byte
	pos    int
	end    int
	frag   *fragments
	limits *alloc.Limited

	// maskedInput selects the mask expectation: server-side readers must
	// see masked client frames, client-side readers must not see a mask.
	maskedInput bool
}

// NewReader allocates a reader charging its buffer to limits.
func NewReader(limits *alloc.Limited, maskedInput bool) (*Reader, error) {
	if err := limits.Reserve(InitialBufferSize); err != nil {
		return nil, err
	}
	return &Reader{
		buf:         make([]byte, InitialBufferSize),
		limits:      limits,
		maskedInput: maskedInput,
	}, nil
}

// Close releases the reader's budget reservations.
func (r *Reader) Close() {
	r.limits.Release(len(r.buf))
	r.buf = nil
	r.releaseFragments()
}

// Tail returns the writable free space the caller reads socket bytes into.
func (r *Reader) Tail() []byte { return r.buf[r.end:] }

// Advance records n bytes written into the tail.
func (r *Reader) Advance(n int) { r.end += n }

// Buffered returns the unconsumed bytes. Used by the pre-upgrade HTTP phase,
// which parses the same buffer the reader owns.
func (r *Reader) Buffered() []byte { return r.buf[r.pos:r.end] }

// Consume drops n buffered bytes without decoding them.
func (r *Reader) Consume(n int) {
	r.pos += n
	if r.pos == r.end {
		r.pos, r.end = 0, 0
	}
}

// Next decodes the next complete message. It returns (nil, nil) when more
// bytes are needed, looping internally over non-final fragments.
func (r *Reader) Next() (*Message, error) {
	for {
		avail := r.buf[r.pos:r.end]
		if len(avail) < 2 {
			return nil, nil
		}
		b0, b1 := avail[0], avail[1]

		if b0&rsvMask != 0 {
			return nil, ErrReservedFlags
		}
		masked := b1&maskBit != 0
		if r.maskedInput && !masked {
			return nil, ErrNotMasked
		}
		if !r.maskedInput && masked {
			return nil, ErrMasked
		}

		headerLen := 2
		var payloadLen uint64
		switch b1 & lenMask {
		case len16Sentinel:
			headerLen += 2
			if len(avail) < headerLen {
				return nil, nil
			}
			payloadLen = uint64(binary.BigEndian.Uint16(avail[2:4]))
		case len64Sentinel:
			headerLen += 8
			if len(avail) < headerLen {
				return nil, nil
			}
			payloadLen = binary.BigEndian.Uint64(avail[2:10])
		default:
			payloadLen = uint64(b1 & lenMask)
		}
		if masked {
			headerLen += 4
		}
		// Checked before any arithmetic on the declared length: a 64-bit
		// length near the top of the range would wrap the total below.
		if payloadLen > MaxMessageSize {
			return nil, ErrTooLarge
		}

		fin := b0&finBit != 0
		op := b0 & opcodeMask

		var typ MessageType
		if op != opContinuation {
			var ok bool
			typ, ok = messageType(op)
			if !ok {
				return nil, ErrInvalidMessageType
			}
			if typ.isControl() && payloadLen > MaxControlPayload {
				return nil, ErrControlTooLarge
			}
		}

		total := uint64(headerLen) + payloadLen
		if total > MaxMessageSize {
			return nil, ErrTooLarge
		}
		if int(total) > len(r.buf) {
			// Frame is legal but does not fit the current buffer. Grow and
			// report "need more data"; the caller reads into the new tail.
			if err := r.grow(int(total)); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if len(avail) < int(total) {
			return nil, nil
		}

		payload := avail[headerLen:total]
		if masked {
			var key [4]byte
			copy(key[:], avail[headerLen-4:headerLen])
			Unmask(payload, key)
		}
		r.Consume(int(total))

		if op == opContinuation {
			if r.frag == nil {
				return nil, ErrInvalidContinuation
			}
			if err := r.appendFragment(payload); err != nil {
				return nil, err
			}
			if !fin {
				continue
			}
			msg := &Message{Type: r.frag.typ, Data: r.frag.data, Fragmented: true}
			r.frag = nil // storage stays reserved until releaseFragments
			return msg, nil
		}

		fragmentable := typ == MessageText || typ == MessageBinary
		if r.frag != nil && fragmentable {
			return nil, ErrNestedFragmentation
		}
		if !fin {
			if !fragmentable {
				return nil, ErrInvalidContinuation
			}
			r.frag = &fragments{typ: typ}
			if err := r.appendFragment(payload); err != nil {
				return nil, err
			}
			continue
		}
		return &Message{Type: typ, Data: payload}, nil
	}
}

// ReleaseMessage returns fragment storage to the budget once the caller has
// consumed a reassembled message. Single-frame messages are no-ops.
func (r *Reader) ReleaseMessage(msg *Message) {
	if msg.Fragmented {
		r.limits.Release(cap(msg.Data))
	}
}

func (r *Reader) appendFragment(payload []byte) error {
	f := r.frag
	if len(f.data)+len(payload) > MaxMessageSize {
		return ErrTooLarge
	}
	if need := len(f.data) + len(payload) - cap(f.data); need > 0 {
		newCap := growCap(cap(f.data), len(f.data)+len(payload))
		if err := r.limits.Reserve(newCap - f.reserved); err != nil {
			return err
		}
		grown := make([]byte, len(f.data), newCap)
		copy(grown, f.data)
		f.data = grown
		f.reserved = newCap
	}
	f.data = append(f.data, payload...)
	return nil
}

func (r *Reader) releaseFragments() {
	if r.frag != nil {
		r.limits.Release(r.frag.reserved)
		r.frag = nil
	}
}

// grow enlarges the buffer so a frame of total bytes fits, preserving any
// buffered partial bytes at offset zero.
func (r *Reader) grow(total int) error {
	newCap := growCap(len(r.buf), total)
	if err := r.limits.Reserve(newCap - len(r.buf)); err != nil {
		return err
	}
	grown := make([]byte, newCap)
	n := copy(grown, r.buf[r.pos:r.end])
	r.buf = grown
	r.pos, r.end = 0, n
	return nil
}

// growCap applies 1.5x geometric growth, rounded up to fit need.
func growCap(cur, need int) int {
	if cur == 0 {
		cur = InitialBufferSize
	}
	for cur < need {
		cur += cur / 2
	}
	return cur
}

// Compact reclaims buffer space between messages. Cheap cases first: an
// empty buffer resets the cursors, and a partial frame whose total length is
// already known and still fits in place is left alone to avoid the copy.
func (r *Reader) Compact() {
	if r.pos == r.end {
		r.pos, r.end = 0, 0
		return
	}
	partial := r.buf[r.pos:r.end]
	if total, ok := peekFrameLen(partial, r.maskedInput); ok && r.pos+total <= len(r.buf) {
		return
	}
	n := copy(r.buf, partial)
	r.pos, r.end = 0, n
}

// peekFrameLen computes the total frame length (header, mask, payload) of
// the frame starting at b, when enough bytes are buffered to tell.
func peekFrameLen(b []byte, masked bool) (int, bool) {
	if len(b) < 2 {
		return 0, false
	}
	headerLen := 2
	var payloadLen uint64
	switch b[1] & lenMask {
	case len16Sentinel:
		headerLen += 2
		if len(b) < headerLen {
			return 0, false
		}
		payloadLen = uint64(binary.BigEndian.Uint16(b[2:4]))
	case len64Sentinel:
		headerLen += 8
		if len(b) < headerLen {
			return 0, false
		}
		payloadLen = binary.BigEndian.Uint64(b[2:10])
	default:
		payloadLen = uint64(b[1] & lenMask)
	}
	if masked {
		headerLen += 4
	}
	// An over-limit length would overflow the int below; report "cannot
	// tell" and let Next reject the frame.
	if payloadLen > MaxMessageSize {
		return 0, false
	}
	return headerLen + int(payloadLen), true
}
