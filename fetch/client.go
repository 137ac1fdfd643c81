// File: fetch/client.go
// Package fetch per-session client instance and its polling interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each session owns exactly one Client, built against the shared Pool. The
// session's event loop calls Tick with its remaining inactivity budget;
// Tick multiplexes the registered control socket with any in-flight
// outbound transfers and reports which side woke it.

package fetch

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// TickResult says why Tick returned.
type TickResult int

const (
	// TickNormal - the timeout elapsed with no control-socket activity.
	// The session treats this as inactivity.
	TickNormal TickResult = iota
	// TickSocketReady - the registered control socket became readable.
	TickSocketReady
)

// Bridge lets the client synchronously drive reads on the session's control
// socket while it is blocked waiting for its own transfers. Implemented by
// the session; passed by reference at registration, never stored globally.
type Bridge interface {
	EnterBlockingRead()
	BlockingReadOne() error
	ExitBlockingRead()
}

// Client is one session's outbound HTTP client instance.
type Client struct {
	pool      *Pool
	sessionFD int
	bridge    Bridge
	transfers []*Transfer
}

// NewClient builds a client against the shared pool.
func NewClient(pool *Pool) *Client {
	return &Client{pool: pool, sessionFD: -1}
}

// Register attaches the session's raw socket and its blocking-read bridge.
func (c *Client) Register(fd int, bridge Bridge) {
	c.sessionFD = fd
	c.bridge = bridge
}

// Close tears down any in-flight transfers.
func (c *Client) Close() {
	for _, t := range c.transfers {
		t.abort()
	}
	c.transfers = nil
}

// Tick waits up to timeout for the control socket to become readable.
// Transfer readiness is serviced inline without consuming the wait:
// TickNormal always means the full timeout elapsed with a quiet control
// socket, so the session can charge it against its inactivity budget.
func (c *Client) Tick(timeout time.Duration) (TickResult, error) {
	return c.tick(timeout, false)
}

// tick implements Tick. With stopWhenDrained the wait additionally ends as
// soon as the in-flight set empties, which is what DrainTransfers needs.
func (c *Client) tick(timeout time.Duration, stopWhenDrained bool) (TickResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		// Snapshot the in-flight set: advance may retire a transfer, and
		// the revents indices below must stay aligned with it.
		active := append([]*Transfer(nil), c.transfers...)
		fds := make([]unix.PollFd, 0, 1+len(active))
		fds = append(fds, unix.PollFd{Fd: int32(c.sessionFD), Events: unix.POLLIN})
		for _, t := range active {
			fds = append(fds, unix.PollFd{Fd: int32(t.conn.fd), Events: unix.POLLIN})
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.Poll(fds, int(remaining/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return TickNormal, fmt.Errorf("fetch: poll: %w", err)
		}
		if n == 0 {
			return TickNormal, nil
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return TickSocketReady, nil
		}
		for i, t := range active {
			if fds[1+i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				c.advance(t)
			}
		}
		if stopWhenDrained && len(c.transfers) == 0 {
			return TickNormal, nil
		}
	}
}

// DrainTransfers blocks until every in-flight transfer completes or timeout
// expires. While waiting, control-socket readability is serviced through the
// bridge so protocol commands are never starved by a slow fetch.
func (c *Client) DrainTransfers(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(c.transfers) > 0 {
		res, err := c.tick(time.Until(deadline), true)
		if err != nil {
			return err
		}
		if res == TickSocketReady && c.bridge != nil {
			c.bridge.EnterBlockingRead()
			err := c.bridge.BlockingReadOne()
			c.bridge.ExitBlockingRead()
			if err != nil {
				return err
			}
		}
		if time.Now().After(deadline) {
			return unix.ETIMEDOUT
		}
	}
	return nil
}

// Pending reports the number of in-flight transfers.
func (c *Client) Pending() int { return len(c.transfers) }

func (c *Client) dropTransfer(t *Transfer) {
	for i, cur := range c.transfers {
		if cur == t {
			c.transfers = append(c.transfers[:i], c.transfers[i+1:]...)
			return
		}
	}
}
