// File: upgrade/handshake.go
// Package upgrade parses the single buffered HTTP request a connection is
// allowed before it either becomes a WebSocket or is answered and closed.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// There is no generic header map: the request is walked linearly once, with
// a 4-bit mask tracking the required upgrade headers. On success the accept
// token is spliced into a fixed response template at a known offset.

package upgrade

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
)

// MaxRequestSize caps the buffered header block of a request. The caller
// rejects with ErrRequestTooLarge before any parsing is attempted.
const MaxRequestSize = 4096

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrInvalidRequest          = errors.New("upgrade: malformed request")
	ErrInvalidProtocol         = errors.New("upgrade: request is not HTTP/1.1")
	ErrInvalidUpgradeHeader    = errors.New("upgrade: invalid Upgrade header")
	ErrInvalidVersionHeader    = errors.New("upgrade: invalid Sec-WebSocket-Version header")
	ErrInvalidConnectionHeader = errors.New("upgrade: invalid Connection header")
	ErrMissingHeaders          = errors.New("upgrade: missing required headers")
	ErrNotFound                = errors.New("upgrade: unknown path")
	ErrRequestTooLarge         = errors.New("upgrade: request too large")
)

// Action tells the connection what to do after sending the response.
type Action int

const (
	// ActionUpgrade switches the connection into protocol mode.
	ActionUpgrade Action = iota
	// ActionVersion serves the /json/version document, after which the
	// caller half-closes the read side of the socket.
	ActionVersion
)

const acceptPlaceholder = "0000000000000000000000000000"

const upgradeTemplate = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: upgrade\r\n" +
	"Sec-Websocket-Accept: " + acceptPlaceholder + "\r\n\r\n"

var acceptOffset = strings.Index(upgradeTemplate, acceptPlaceholder)

// Required-header bits.
const (
	sawUpgrade = 1 << iota
	sawVersion
	sawConnection
	sawKey
	sawAll = sawUpgrade | sawVersion | sawConnection | sawKey
)

// Negotiate parses one complete request block; req must end in \r\n\r\n
// (the caller's buffering contract). versionResponse is the precomputed
// /json/version document served on that route. The returned bytes are the
// full response to send.
func Negotiate(req, versionResponse []byte) ([]byte, Action, error) {
	line, rest, ok := cutLine(req)
	if !ok {
		return nil, 0, ErrInvalidRequest
	}
	if len(line) < len("HTTP/1.1") || !strings.EqualFold(string(line[len(line)-8:]), "HTTP/1.1") {
		return nil, 0, ErrInvalidProtocol
	}
	path, ok := requestPath(line)
	if !ok {
		return nil, 0, ErrInvalidRequest
	}

	switch path {
	case "/":
	case "/json/version":
		return versionResponse, ActionVersion, nil
	default:
		return nil, 0, ErrNotFound
	}

	var seen uint8
	var key []byte
	for {
		line, rest, ok = cutLine(rest)
		if !ok || len(line) == 0 {
			break
		}
		name, value, found := bytes.Cut(line, []byte{':'})
		if !found {
			return nil, 0, ErrInvalidRequest
		}
		value = bytes.TrimLeft(value, " \t")
		switch {
		case asciiEqualFold(name, "upgrade"):
			if !asciiEqualFold(value, "websocket") {
				return nil, 0, ErrInvalidUpgradeHeader
			}
			seen |= sawUpgrade
		case asciiEqualFold(name, "sec-websocket-version"):
			if len(value) != 2 || value[0] != '1' || value[1] != '3' {
				return nil, 0, ErrInvalidVersionHeader
			}
			seen |= sawVersion
		case asciiEqualFold(name, "connection"):
			// The value commonly lists several tokens ("keep-alive, Upgrade");
			// a substring match anywhere is enough.
			if !asciiContainsFold(value, "upgrade") {
				return nil, 0, ErrInvalidConnectionHeader
			}
			seen |= sawConnection
		case asciiEqualFold(name, "sec-websocket-key"):
			key = value
			seen |= sawKey
		}
	}
	if seen != sawAll {
		return nil, 0, ErrMissingHeaders
	}

	resp := make([]byte, len(upgradeTemplate))
	copy(resp, upgradeTemplate)
	digest := sha1.New()
	digest.Write(key)
	digest.Write([]byte(websocketGUID))
	base64.StdEncoding.Encode(resp[acceptOffset:], digest.Sum(nil))
	return resp, ActionUpgrade, nil
}

// cutLine splits b at the first \r\n.
func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.Index(b, []byte("\r\n"))
	if i < 0 {
		return nil, b, false
	}
	return b[:i], b[i+2:], true
}

// requestPath extracts the target from "GET <path> HTTP/1.1".
func requestPath(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, []byte("GET ")) {
		return "", false
	}
	rest := line[4:]
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		return "", false
	}
	return string(rest[:sp]), true
}

func asciiEqualFold(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if toLower(b[i]) != lower[i] {
			return false
		}
	}
	return true
}

func asciiContainsFold(b []byte, lower string) bool {
	if len(lower) == 0 || len(b) < len(lower) {
		return false
	}
	for i := 0; i+len(lower) <= len(b); i++ {
		j := 0
		for ; j < len(lower); j++ {
			if toLower(b[i+j]) != lower[j] {
				break
			}
		}
		if j == len(lower) {
			return true
		}
	}
	return false
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
