// File: fetch/transfer.go
// Package fetch outbound GET transfers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A transfer hands the raw response bytes to its sink; interpreting them is
// the page engine's business. The only response parsing done here is the
// minimum needed to know when a keep-alive connection may go back to the
// pool: locating the header terminator and the Content-Length value.

package fetch

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// Transfer is one in-flight outbound request.
type Transfer struct {
	client *Client
	conn   *Conn

	onData func([]byte)
	onDone func(error)

	header    []byte
	headerEnd bool
	remaining int64 // body bytes left; -1 until the header is parsed
}

// Get starts an outbound GET to host (ip:port) for path. onData receives
// raw response bytes as they arrive; onDone fires once, with the transfer
// error or nil.
func (c *Client) Get(host, path string, onData func([]byte), onDone func(error)) error {
	conn, ok := c.pool.acquire(host)
	if !ok {
		var err error
		conn, err = dial(host)
		if err != nil {
			return err
		}
	}

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n\r\n", path, host)
	if err := writeAll(conn.fd, []byte(req)); err != nil {
		_ = unix.Close(conn.fd)
		return fmt.Errorf("fetch: send request: %w", err)
	}

	t := &Transfer{
		client:    c,
		conn:      conn,
		onData:    onData,
		onDone:    onDone,
		remaining: -1,
	}
	c.transfers = append(c.transfers, t)
	return nil
}

// advance reads once from a readable transfer socket and routes the bytes.
func (c *Client) advance(t *Transfer) {
	var buf [4096]byte
	n, err := unix.Read(t.conn.fd, buf[:])
	if err == unix.EAGAIN {
		return
	}
	if err != nil {
		t.finish(fmt.Errorf("fetch: read response: %w", err))
		return
	}
	if n == 0 {
		// Peer closed; fine when the body length was unknown.
		if t.headerEnd && t.remaining <= 0 {
			t.finish(nil)
		} else {
			t.finish(fmt.Errorf("fetch: connection closed mid-response"))
		}
		return
	}

	chunk := buf[:n]
	if !t.headerEnd {
		t.header = append(t.header, chunk...)
		if i := bytes.Index(t.header, []byte("\r\n\r\n")); i >= 0 {
			t.headerEnd = true
			t.remaining = contentLength(t.header[:i])
			t.remaining -= int64(len(t.header) - i - 4)
			t.header = nil
		}
	} else if t.remaining > 0 {
		t.remaining -= int64(n)
	}

	if t.onData != nil {
		t.onData(chunk)
	}
	if t.headerEnd && t.remaining <= 0 {
		t.finish(nil)
	}
}

// finish completes a transfer. Clean keep-alive completions return the
// connection to the pool; everything else closes it.
func (t *Transfer) finish(err error) {
	t.client.dropTransfer(t)
	if err == nil {
		t.client.pool.release(t.conn)
	} else {
		_ = unix.Close(t.conn.fd)
	}
	if t.onDone != nil {
		t.onDone(err)
	}
}

func (t *Transfer) abort() {
	_ = unix.Close(t.conn.fd)
	if t.onDone != nil {
		t.onDone(unix.ECANCELED)
	}
}

// contentLength extracts the Content-Length value, or -1 when absent.
func contentLength(header []byte) int64 {
	for _, line := range bytes.Split(header, []byte("\r\n")) {
		name, value, ok := bytes.Cut(line, []byte{':'})
		if !ok || !bytes.EqualFold(name, []byte("Content-Length")) {
			continue
		}
		n, err := strconv.ParseInt(string(bytes.TrimSpace(value)), 10, 64)
		if err != nil {
			return -1
		}
		return n
	}
	return -1
}

// dial opens a fresh non-blocking connection to host.
func dial(host string) (*Conn, error) {
	addr, err := net.ResolveTCPAddr("tcp4", host)
	if err != nil {
		return nil, fmt.Errorf("fetch: resolve %s: %w", host, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("fetch: socket: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To4())
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fetch: connect %s: %w", host, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fetch: set nonblock: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return &Conn{fd: fd, host: host}, nil
}

// writeAll writes b fully, waiting for writability as needed.
func writeAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EAGAIN {
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(fds, int((5 * time.Second).Milliseconds())); perr != nil && perr != unix.EINTR {
				return perr
			}
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
