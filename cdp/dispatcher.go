// File: cdp/dispatcher.go
// Package cdp defines the protocol dispatcher a session drives once a
// connection has upgraded, plus a minimal concrete dispatcher good enough
// to answer version probes and shut the browser down.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cdp

import "time"

// WaitResult is the dispatcher's answer to "how long until you have nothing
// else to do".
type WaitResult int

const (
	// WaitSocketReady - the raw control socket became readable.
	WaitSocketReady WaitResult = iota
	// WaitIdleNoPage - no page work is pending; the session should fall
	// back to polling the outbound HTTP client.
	WaitIdleNoPage
	// WaitIdleDone - the dispatcher is idle for now; the session accounts
	// elapsed time against the inactivity budget without blocking again.
	WaitIdleDone
)

// Dispatcher interprets decoded protocol messages and drives page work.
type Dispatcher interface {
	// HandleMessage consumes one decoded message. The returned bytes, if
	// any, are framed and sent to the client; a false flag ends the session.
	HandleMessage(msg []byte) ([]byte, bool)

	// PageWait lets pending page work run for at most remaining and reports
	// why it stopped.
	PageWait(remaining time.Duration) WaitResult
}
