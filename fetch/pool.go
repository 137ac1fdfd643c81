// File: fetch/pool.go
// Package fetch is the embedded outbound HTTP client a session polls while
// it serves the control socket. The pool is the only piece shared between
// session threads.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fetch

import (
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Conn is one pooled outbound connection.
type Conn struct {
	fd   int
	host string
}

// Pool keeps idle outbound connections for reuse across sessions. Oldest
// idle connections are evicted first.
type Pool struct {
	mu      sync.Mutex
	idle    *queue.Queue
	maxIdle int
}

// NewPool creates a pool retaining at most maxIdle idle connections.
func NewPool(maxIdle int) *Pool {
	return &Pool{idle: queue.New(), maxIdle: maxIdle}
}

// acquire pops an idle connection for host, if one exists. The FIFO is
// rotated once; non-matching entries keep their order.
func (p *Pool) acquire(host string) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := p.idle.Length(); i > 0; i-- {
		c := p.idle.Remove().(*Conn)
		if c.host == host {
			return c, true
		}
		p.idle.Add(c)
	}
	return nil, false
}

// release parks a connection for reuse, evicting the oldest one when the
// idle ceiling is reached.
func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle.Add(c)
	for p.idle.Length() > p.maxIdle {
		evicted := p.idle.Remove().(*Conn)
		_ = unix.Close(evicted.fd)
	}
}

// Close drops every idle connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.idle.Length() > 0 {
		c := p.idle.Remove().(*Conn)
		_ = unix.Close(c.fd)
	}
}

// IdleCount reports the pooled connection count, for tests and metrics.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Length()
}
