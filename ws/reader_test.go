// File: ws/reader_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ws_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/momentics/cdpserve/alloc"
	"github.com/momentics/cdpserve/ws"
)

var testKey = [4]byte{0xA1, 0xB2, 0xC3, 0xD4}

// clientFrame builds one masked client frame with full control over the
// opcode and FIN bit.
func clientFrame(op byte, fin bool, payload []byte) []byte {
	var hdr []byte
	b0 := op
	if fin {
		b0 |= 0x80
	}
	switch {
	case len(payload) <= 125:
		hdr = []byte{b0, 0x80 | byte(len(payload))}
	case len(payload) <= 0xFFFF:
		hdr = []byte{b0, 0x80 | 126, 0, 0}
		binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))
	default:
		hdr = []byte{b0, 0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(hdr[2:], uint64(len(payload)))
	}
	out := append(hdr, testKey[:]...)
	masked := append([]byte(nil), payload...)
	ws.Mask(masked, testKey)
	return append(out, masked...)
}

func newTestReader(t *testing.T) *ws.Reader {
	t.Helper()
	r, err := ws.NewReader(alloc.NewFactory(4<<20).NewLimited(), true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

// feed copies bytes into the reader's tail, as the socket read path would.
func feed(t *testing.T, r *ws.Reader, b []byte) {
	t.Helper()
	for len(b) > 0 {
		tail := r.Tail()
		if len(tail) == 0 {
			t.Fatal("no tail space to feed into")
		}
		n := copy(tail, b)
		r.Advance(n)
		b = b[n:]
	}
}

func TestReaderSingleTextFrame(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	feed(t, r, clientFrame(0x1, true, []byte("hello")))

	msg, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg == nil || msg.Type != ws.MessageText || string(msg.Data) != "hello" {
		t.Fatalf("got %+v, want text %q", msg, "hello")
	}
	if msg.Fragmented {
		t.Error("single frame flagged as fragmented")
	}
	if msg, _ := r.Next(); msg != nil {
		t.Fatalf("unexpected second message: %+v", msg)
	}
}

func TestReaderNeedMoreData(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	frame := clientFrame(0x2, true, bytes.Repeat([]byte{7}, 200))

	for i := 1; i < len(frame); i += 37 {
		r2 := newTestReader(t)
		feed(t, r2, frame[:i])
		msg, err := r2.Next()
		if err != nil {
			t.Fatalf("prefix %d: unexpected error %v", i, err)
		}
		if msg != nil {
			t.Fatalf("prefix %d: message from incomplete frame", i)
		}
		r2.Close()
	}
	feed(t, r, frame)
	msg, err := r.Next()
	if err != nil || msg == nil || msg.Type != ws.MessageBinary || len(msg.Data) != 200 {
		t.Fatalf("complete frame: msg=%+v err=%v", msg, err)
	}
}

func TestReaderFragmentedReassembly(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	feed(t, r, clientFrame(0x1, false, []byte("mask")))
	feed(t, r, clientFrame(0x0, true, []byte("d")))

	msg, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg == nil || msg.Type != ws.MessageText || string(msg.Data) != "maskd" {
		t.Fatalf("got %+v, want text %q", msg, "maskd")
	}
	if !msg.Fragmented {
		t.Error("reassembled message not flagged for fragment release")
	}
	r.ReleaseMessage(msg)
}

func TestReaderInterleavedControlFrame(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	feed(t, r, clientFrame(0x1, false, []byte("par")))
	feed(t, r, clientFrame(0x9, true, []byte("pingme")))
	feed(t, r, clientFrame(0x0, true, []byte("tial")))

	msg, err := r.Next()
	if err != nil || msg == nil || msg.Type != ws.MessagePing || string(msg.Data) != "pingme" {
		t.Fatalf("expected interleaved ping first, got %+v err=%v", msg, err)
	}
	msg, err = r.Next()
	if err != nil || msg == nil || msg.Type != ws.MessageText || string(msg.Data) != "partial" {
		t.Fatalf("expected reassembled text, got %+v err=%v", msg, err)
	}
	r.ReleaseMessage(msg)
}

func TestReaderErrors(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  error
		code  uint16
	}{
		{"reserved bits", func() []byte {
			f := clientFrame(0x1, true, []byte("x"))
			f[0] |= 0x40
			return f
		}(), ws.ErrReservedFlags, 1002},
		{"unmasked client frame", func() []byte {
			f := clientFrame(0x1, true, []byte("x"))
			// Clear the mask bit and strip the key.
			f[1] &^= 0x80
			return append(f[:2], byte('x'))
		}(), ws.ErrNotMasked, 1002},
		{"unknown opcode", clientFrame(0x3, true, []byte("x")), ws.ErrInvalidMessageType, 1002},
		{"oversized control frame", clientFrame(0x9, true, bytes.Repeat([]byte{1}, 126)), ws.ErrControlTooLarge, 1002},
		{"continuation without start", clientFrame(0x0, true, []byte("x")), ws.ErrInvalidContinuation, 1002},
		{"non-final control frame", clientFrame(0x9, false, []byte("x")), ws.ErrInvalidContinuation, 1002},
		{"oversized declared length", func() []byte {
			f := []byte{0x82, 0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 0}
			binary.BigEndian.PutUint64(f[2:], uint64(ws.MaxMessageSize)+1)
			return append(f, testKey[:]...)
		}(), ws.ErrTooLarge, 1009},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReader(t)
			defer r.Close()
			feed(t, r, tc.frame)
			_, err := r.Next()
			if !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
			if got := ws.CloseCode(err); got != tc.code {
				t.Fatalf("close code %d, want %d", got, tc.code)
			}
		})
	}
}

func TestReaderNestedFragmentation(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	feed(t, r, clientFrame(0x1, false, []byte("one")))
	feed(t, r, clientFrame(0x1, false, []byte("two")))
	_, err := r.Next()
	if !errors.Is(err, ws.ErrNestedFragmentation) {
		t.Fatalf("got %v, want ErrNestedFragmentation", err)
	}
}

func TestReaderClientModeRejectsMaskedFrames(t *testing.T) {
	r, err := ws.NewReader(alloc.NewFactory(1<<20).NewLimited(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	feed(t, r, clientFrame(0x1, true, []byte("x")))
	if _, err := r.Next(); !errors.Is(err, ws.ErrMasked) {
		t.Fatalf("got %v, want ErrMasked", err)
	}
}

func TestReaderClientModeReadsServerFrames(t *testing.T) {
	r, err := ws.NewReader(alloc.NewFactory(1<<20).NewLimited(), false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	buf := make([]byte, ws.HeaderReserve+3)
	copy(buf[ws.HeaderReserve:], "abc")
	feed(t, r, ws.Frame(ws.MessageText, buf))

	msg, err := r.Next()
	if err != nil || msg == nil || string(msg.Data) != "abc" {
		t.Fatalf("msg=%+v err=%v", msg, err)
	}
}

func TestReaderBufferGrowth(t *testing.T) {
	limits := alloc.NewFactory(4 << 20).NewLimited()
	r, err := ws.NewReader(limits, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	payload := bytes.Repeat([]byte{0x5A}, 8000)
	frame := clientFrame(0x2, true, payload)

	// Fill the initial buffer, which cannot hold the whole frame.
	n := len(r.Tail())
	feed(t, r, frame[:n])
	msg, err := r.Next()
	if err != nil {
		t.Fatalf("Next during growth: %v", err)
	}
	if msg != nil {
		t.Fatal("message decoded before frame was complete")
	}

	// The buffer grew; the rest must fit now.
	feed(t, r, frame[n:])
	msg, err = r.Next()
	if err != nil || msg == nil {
		t.Fatalf("msg=%v err=%v", msg, err)
	}
	if !bytes.Equal(msg.Data, payload) {
		t.Fatal("payload corrupted across buffer growth")
	}
}

func TestReaderGrowthHitsMemoryLimit(t *testing.T) {
	limits := alloc.NewFactory(5000).NewLimited() // room for the initial buffer only
	r, err := ws.NewReader(limits, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	frame := clientFrame(0x2, true, bytes.Repeat([]byte{1}, 8000))
	feed(t, r, frame[:len(r.Tail())])
	if _, err := r.Next(); !errors.Is(err, alloc.ErrLimit) {
		t.Fatalf("got %v, want alloc.ErrLimit", err)
	}
}

func TestCompactPreservesPartialFrames(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()

	whole := clientFrame(0x1, true, []byte("first"))
	second := clientFrame(0x1, true, bytes.Repeat([]byte{'b'}, 100))
	split := len(second) / 2

	feed(t, r, whole)
	feed(t, r, second[:split])

	msg, err := r.Next()
	if err != nil || msg == nil || string(msg.Data) != "first" {
		t.Fatalf("msg=%+v err=%v", msg, err)
	}
	if msg, _ := r.Next(); msg != nil {
		t.Fatal("partial second frame decoded early")
	}

	before := len(r.Buffered())
	r.Compact()
	if after := len(r.Buffered()); after != before {
		t.Fatalf("compact changed readable bytes: %d -> %d", before, after)
	}

	// Decoding continues across the compaction boundary.
	feed(t, r, second[split:])
	msg, err = r.Next()
	if err != nil || msg == nil || len(msg.Data) != 100 {
		t.Fatalf("msg=%+v err=%v", msg, err)
	}
}

func TestCompactResetsDrainedBuffer(t *testing.T) {
	r := newTestReader(t)
	defer r.Close()
	feed(t, r, clientFrame(0x1, true, []byte("x")))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	r.Compact()
	if len(r.Buffered()) != 0 {
		t.Fatal("drained buffer still reports readable bytes")
	}
	if len(r.Tail()) == 0 {
		t.Fatal("no tail space after reset")
	}
}

func TestReaderHugeDeclaredLength(t *testing.T) {
	// A 64-bit declared length near the top of the range must be rejected
	// outright, not wrapped into a small total.
	lengths := []uint64{
		^uint64(0) - 8,
		1 << 63,
		ws.MaxMessageSize + 1,
	}
	for _, l := range lengths {
		r := newTestReader(t)
		hdr := []byte{0x81, 0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(hdr[2:], l)
		feed(t, r, append(hdr, testKey[:]...))

		msg, err := r.Next()
		if !errors.Is(err, ws.ErrTooLarge) {
			t.Fatalf("length %d: msg=%+v err=%v, want ErrTooLarge", l, msg, err)
		}
		if code := ws.CloseCode(err); code != ws.CloseTooLarge {
			t.Fatalf("length %d: close code %d, want %d", l, code, ws.CloseTooLarge)
		}
		r.Close()
	}
}

func TestCompactWithHugeDeclaredLength(t *testing.T) {
	// Compact peeks the partial frame's length; an adversarial length must
	// not overflow that computation either.
	r := newTestReader(t)
	defer r.Close()
	hdr := []byte{0x81, 0x80 | 127}
	hdr = append(hdr, bytes.Repeat([]byte{0xFF}, 8)...)
	feed(t, r, hdr)
	r.Compact()

	if _, err := r.Next(); !errors.Is(err, ws.ErrTooLarge) {
		t.Fatalf("err=%v, want ErrTooLarge", err)
	}
}
