// File: session/client.go
// Package session connection state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Client starts in HTTP mode and transitions to CDP mode exactly once, on
// a successful upgrade; it never transitions back. The socket is kept
// non-blocking so reads are never starved by slow writes; a send that would
// block escalates the socket to blocking mode once, for the remainder of
// that single send.

package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"github.com/momentics/cdpserve/alloc"
	"github.com/momentics/cdpserve/cdp"
	"github.com/momentics/cdpserve/metrics"
	"github.com/momentics/cdpserve/upgrade"
	"github.com/momentics/cdpserve/ws"
	"golang.org/x/sys/unix"
)

// Mode discriminates the connection state.
type Mode uint8

const (
	ModeHTTP Mode = iota
	ModeCDP
)

// arenaRetain caps the capacity the send arena keeps across resets.
const arenaRetain = 1 << 20

// snippetLen bounds the request snippet logged with unexpected errors.
const snippetLen = 64

// Client owns one socket, the frame reader, and the outbound scratch arena.
type Client struct {
	fd         int
	mode       Mode
	dispatcher cdp.Dispatcher
	reader     *ws.Reader
	arena      *alloc.Arena

	versionResp   []byte
	newDispatcher func() cdp.Dispatcher

	log   *log.Logger
	stats *metrics.Collector

	// blocking mirrors the socket's current O_NONBLOCK state; guards
	// against re-entrant send escalation.
	blocking bool
}

func newClient(fd int, limits *alloc.Limited, versionResp []byte,
	newDispatcher func() cdp.Dispatcher, logger *log.Logger, stats *metrics.Collector) (*Client, error) {

	reader, err := ws.NewReader(limits, true)
	if err != nil {
		return nil, err
	}
	if err := setNonblock(fd, true); err != nil {
		reader.Close()
		return nil, fmt.Errorf("session: set nonblock: %w", err)
	}
	return &Client{
		fd:            fd,
		mode:          ModeHTTP,
		reader:        reader,
		arena:         alloc.NewArena(arenaRetain),
		versionResp:   versionResp,
		newDispatcher: newDispatcher,
		log:           logger,
		stats:         stats,
	}, nil
}

func (c *Client) close() {
	c.reader.Close()
}

// pending reports buffered bytes not yet consumed by process.
func (c *Client) pending() int { return len(c.reader.Buffered()) }

// readSocket pulls available bytes into the reader's tail. eof is reported
// when the peer closed; a would-block read is not an error.
func (c *Client) readSocket() (eof bool, err error) {
	tail := c.reader.Tail()
	if len(tail) == 0 {
		// Next/Compact guarantee free tail space before the loop reads
		// again; an empty tail means the buffered request hit its ceiling.
		return false, nil
	}
	n, rerr := unix.Read(c.fd, tail)
	if rerr == unix.EAGAIN || rerr == unix.EINTR {
		return false, nil
	}
	if rerr != nil {
		return false, fmt.Errorf("session: read: %w", rerr)
	}
	if n == 0 {
		return true, nil
	}
	c.reader.Advance(n)
	c.stats.AddBytes("in", n)
	return false, nil
}

// process consumes buffered bytes according to the current mode. done means
// the connection must end.
func (c *Client) process() (done bool, err error) {
	if c.mode == ModeHTTP {
		return c.processHTTP()
	}
	return c.processCDP()
}

func (c *Client) processHTTP() (bool, error) {
	buf := c.reader.Buffered()
	end := bytes.Index(buf, []byte("\r\n\r\n"))
	if end < 0 {
		if len(buf) >= upgrade.MaxRequestSize {
			c.logSnippet(upgrade.ErrRequestTooLarge, buf)
			return true, c.send(upgrade.ErrorResponse(upgrade.ErrRequestTooLarge))
		}
		return false, nil
	}
	block := buf[:end+4]
	if len(block) > upgrade.MaxRequestSize {
		c.logSnippet(upgrade.ErrRequestTooLarge, block)
		return true, c.send(upgrade.ErrorResponse(upgrade.ErrRequestTooLarge))
	}

	resp, action, err := upgrade.Negotiate(block, c.versionResp)
	if err != nil {
		c.logSnippet(err, block)
		if serr := c.send(upgrade.ErrorResponse(err)); serr != nil {
			return true, serr
		}
		return true, nil
	}
	if err := c.send(resp); err != nil {
		return true, err
	}
	c.reader.Consume(len(block))

	switch action {
	case upgrade.ActionUpgrade:
		// One-way transition; the dispatcher exists from here on.
		c.mode = ModeCDP
		c.dispatcher = c.newDispatcher()
	case upgrade.ActionVersion:
		// Some drivers probe /json/version on a throwaway connection before
		// upgrading on another. Half-close reads so that probe connection
		// dies on EOF instead of holding the accept loop until the
		// inactivity timeout. Downstream drivers depend on this.
		if err := shutdownRead(c.fd); err != nil {
			return true, fmt.Errorf("session: shutdown read: %w", err)
		}
	}
	return false, nil
}

func (c *Client) processCDP() (bool, error) {
	for {
		msg, err := c.reader.Next()
		if err != nil {
			c.stats.FramingError(err.Error())
			// Best-effort close frame; a budget failure gets no close
			// frame at all, just teardown.
			if !errors.Is(err, alloc.ErrLimit) {
				_ = c.sendClose(ws.CloseCode(err))
			}
			return true, err
		}
		if msg == nil {
			c.reader.Compact()
			return false, nil
		}
		c.stats.MessageDecoded(msg.Type.String())

		switch msg.Type {
		case ws.MessagePing:
			if err := c.sendMessage(ws.MessagePong, msg.Data); err != nil {
				return true, err
			}
		case ws.MessagePong:
			// Unsolicited pong; nothing to do.
		case ws.MessageClose:
			_ = c.sendClose(ws.CloseNormal)
			c.reader.ReleaseMessage(msg)
			return true, nil
		default:
			reply, ok := c.dispatcher.HandleMessage(msg.Data)
			c.reader.ReleaseMessage(msg)
			if reply != nil {
				if err := c.sendMessage(ws.MessageText, reply); err != nil {
					return true, err
				}
			}
			if !ok {
				return true, nil
			}
		}
	}
}

// sendMessage frames payload through the arena's reserved-header buffer and
// writes it out.
func (c *Client) sendMessage(typ ws.MessageType, payload []byte) error {
	buf := c.arena.Bytes(ws.HeaderReserve + len(payload))
	copy(buf[ws.HeaderReserve:], payload)
	err := c.send(ws.Frame(typ, buf))
	c.arena.Reset()
	return err
}

func (c *Client) sendClose(code uint16) error {
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], code)
	return c.sendMessage(ws.MessageClose, body[:])
}

// send writes b until fully flushed. On a would-block write the socket is
// flipped to blocking for the remainder of this send only.
func (c *Client) send(b []byte) (err error) {
	escalated := false
	defer func() {
		if escalated {
			if rerr := c.setBlockingMode(false); err == nil && rerr != nil {
				err = rerr
			}
		}
	}()
	total := 0
	for len(b) > 0 {
		n, werr := unix.Write(c.fd, b)
		if werr == unix.EAGAIN {
			if c.blocking {
				return fmt.Errorf("session: EAGAIN on blocking socket")
			}
			if escalated {
				return fmt.Errorf("session: re-entrant send escalation")
			}
			escalated = true
			if err := c.setBlockingMode(true); err != nil {
				return err
			}
			continue
		}
		if werr == unix.EINTR {
			continue
		}
		if werr != nil {
			return fmt.Errorf("session: write: %w", werr)
		}
		b = b[n:]
		total += n
	}
	c.stats.AddBytes("out", total)
	return nil
}

func (c *Client) setBlockingMode(blocking bool) error {
	if err := setNonblock(c.fd, !blocking); err != nil {
		return fmt.Errorf("session: toggle blocking: %w", err)
	}
	c.blocking = blocking
	return nil
}

func (c *Client) logSnippet(err error, req []byte) {
	snippet := req
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	c.log.Printf("http request rejected: %v (request %q)", err, snippet)
}
