// File: upgrade/responses.go
// Package upgrade canned HTTP responses.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package upgrade

import (
	"errors"
	"fmt"
)

// makeResponse renders the fixed error-response shape: status line with a
// bare code, Connection: Close, and an exact Content-Length.
func makeResponse(code int, body string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d \r\nConnection: Close\r\nContent-Length: %d\r\n\r\n%s",
		code, len(body), body))
}

var (
	respInvalidRequest    = makeResponse(400, "invalid request")
	respInvalidProtocol   = makeResponse(400, "invalid protocol")
	respInvalidUpgrade    = makeResponse(400, "invalid upgrade header")
	respInvalidVersion    = makeResponse(400, "invalid websocket version")
	respInvalidConnection = makeResponse(400, "invalid connection header")
	respMissingHeaders    = makeResponse(400, "missing required headers")
	respNotFound          = makeResponse(404, "not found")
	respTooLarge          = makeResponse(413, "request too large")
	respInternal          = makeResponse(500, "internal error")
)

// ErrorResponse maps a negotiation error to its canned response. Unexpected
// errors get the generic 500 body.
func ErrorResponse(err error) []byte {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return respInvalidRequest
	case errors.Is(err, ErrInvalidProtocol):
		return respInvalidProtocol
	case errors.Is(err, ErrInvalidUpgradeHeader):
		return respInvalidUpgrade
	case errors.Is(err, ErrInvalidVersionHeader):
		return respInvalidVersion
	case errors.Is(err, ErrInvalidConnectionHeader):
		return respInvalidConnection
	case errors.Is(err, ErrMissingHeaders):
		return respMissingHeaders
	case errors.Is(err, ErrNotFound):
		return respNotFound
	case errors.Is(err, ErrRequestTooLarge):
		return respTooLarge
	}
	return respInternal
}

// VersionResponse precomputes the /json/version document advertising the
// WebSocket URL for host ("ip:port").
func VersionResponse(host string) []byte {
	body := fmt.Sprintf(`{"webSocketDebuggerUrl": "ws://%s/"}`, host)
	return []byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nConnection: Close\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body))
}
