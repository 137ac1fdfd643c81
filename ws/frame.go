// File: ws/frame.go
// Package ws implements the WebSocket framing layer of the debugging server:
// an incremental frame reader over an owned growable buffer, header encoding
// helpers for outbound frames, and payload masking.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ws

// Wire-level bit layout of the first two header bytes (RFC6455 §5.2).
const (
	finBit     = 0x80
	rsvMask    = 0x70
	opcodeMask = 0x0F
	maskBit    = 0x80
	lenMask    = 0x7F

	len16Sentinel = 126
	len64Sentinel = 127
)

// Frame opcodes.
const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA
)

// MessageType identifies a decoded message handed to the caller.
type MessageType uint8

const (
	MessageText MessageType = iota
	MessageBinary
	MessageClose
	MessagePing
	MessagePong
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClose:
		return "close"
	case MessagePing:
		return "ping"
	case MessagePong:
		return "pong"
	}
	return "invalid"
}

// opcode returns the wire opcode for an outbound frame of this type.
func (t MessageType) opcode() byte {
	switch t {
	case MessageText:
		return opText
	case MessageBinary:
		return opBinary
	case MessageClose:
		return opClose
	case MessagePing:
		return opPing
	default:
		return opPong
	}
}

// messageType maps a wire opcode to a MessageType. Continuation frames are
// handled separately by the reader and never reach this table.
func messageType(op byte) (MessageType, bool) {
	switch op {
	case opText:
		return MessageText, true
	case opBinary:
		return MessageBinary, true
	case opClose:
		return MessageClose, true
	case opPing:
		return MessagePing, true
	case opPong:
		return MessagePong, true
	}
	return 0, false
}

// isControl reports whether t is a control message. Control frames may be
// interleaved inside a fragmented sequence but can never themselves fragment.
func (t MessageType) isControl() bool {
	return t == MessageClose || t == MessagePing || t == MessagePong
}

// Size ceilings. A message may occupy at most 512 KiB of payload plus the
// largest possible header and the budget for one interleaved control frame.
const (
	MaxHeaderSize     = 14 // 2 fixed + 8 extended length + 4 mask
	MaxControlPayload = 125

	controlFrameBudget = 140
	MaxMessageSize     = 512*1024 + MaxHeaderSize + controlFrameBudget
)

// Close codes emitted by the server.
const (
	CloseNormal        = 1000
	CloseProtocolError = 1002
	CloseTooLarge      = 1009
)

// Message is one decoded unit. Data borrows either the reader's buffer or the
// fragment accumulator and is valid only until the next call into the reader.
type Message struct {
	Type MessageType
	Data []byte

	// Fragmented is set when Data is backed by reassembled fragment storage
	// rather than the read buffer.
	Fragmented bool
}
