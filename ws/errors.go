// File: ws/errors.go
// Package ws framing error taxonomy.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every decode error maps to exactly one close code. The mapping is the
// contract the connection layer relies on when it sends the best-effort
// close frame before tearing the socket down.

package ws

import "errors"

var (
	// ErrReservedFlags - one of the three RSV bits was set. No extension is
	// ever negotiated, so these must always be zero.
	ErrReservedFlags = errors.New("ws: reserved flag bits set")

	// ErrNotMasked - a server-side reader saw an unmasked client frame.
	ErrNotMasked = errors.New("ws: client frame not masked")

	// ErrMasked - a client-side reader saw a masked server frame.
	ErrMasked = errors.New("ws: server frame masked")

	// ErrInvalidMessageType - unknown opcode.
	ErrInvalidMessageType = errors.New("ws: unknown opcode")

	// ErrControlTooLarge - control frame payload above 125 bytes.
	ErrControlTooLarge = errors.New("ws: control frame too large")

	// ErrTooLarge - total frame or reassembled message above MaxMessageSize.
	ErrTooLarge = errors.New("ws: message exceeds size ceiling")

	// ErrInvalidContinuation - continuation frame without a started message,
	// or a control frame with the FIN bit clear.
	ErrInvalidContinuation = errors.New("ws: invalid continuation")

	// ErrNestedFragmentation - a new text/binary sequence started while a
	// fragmented message was still being assembled.
	ErrNestedFragmentation = errors.New("ws: nested fragmentation")
)

// CloseCode returns the close code the peer should receive for a decode
// error. Oversized messages get 1009, every other framing violation 1002.
func CloseCode(err error) uint16 {
	if errors.Is(err, ErrTooLarge) {
		return CloseTooLarge
	}
	return CloseProtocolError
}
