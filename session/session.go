// File: session/session.go
// Package session per-connection supervisor and event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One session owns one OS thread, one bounded memory budget, and one
// outbound HTTP client instance, and drives its Client through the HTTP and
// CDP loop phases until EOF, protocol error, inactivity timeout, or an
// external shutdown request. Cancellation is cooperative: the shutdown flag
// is observed at every loop iteration, and a blocked read is interrupted by
// half-closing the read side of the socket.

package session

import (
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/momentics/cdpserve/alloc"
	"github.com/momentics/cdpserve/cdp"
	"github.com/momentics/cdpserve/fetch"
	"github.com/momentics/cdpserve/metrics"
)

// Config carries the shared factories and per-session settings. The pool
// and allocator factory are the only values shared across session threads.
type Config struct {
	Timeout         time.Duration
	Pool            *fetch.Pool
	Alloc           *alloc.Factory
	VersionResponse []byte
	NewDispatcher   func() cdp.Dispatcher
	Logger          *log.Logger
	Metrics         *metrics.Collector
}

// Session supervises one accepted connection.
type Session struct {
	fd  int
	cfg *Config

	client *Client
	fetch  *fetch.Client

	shutdown atomic.Bool
	done     chan struct{}
	log      *log.Logger
}

// New wraps an accepted socket. The session owns fd from here on.
func New(fd int, cfg *Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.NewDispatcher == nil {
		cfg.NewDispatcher = func() cdp.Dispatcher { return cdp.NewBrowser() }
	}
	return &Session{fd: fd, cfg: cfg, done: make(chan struct{}), log: logger}
}

// Start spawns the session thread.
func (s *Session) Start() {
	go s.run()
}

// Shutdown requests cooperative termination and interrupts any in-progress
// blocking read.
func (s *Session) Shutdown() {
	s.shutdown.Store(true)
	_ = shutdownRead(s.fd)
}

// Join blocks until the session thread has fully exited. The session may
// only be discarded after Join returns.
func (s *Session) Join() {
	<-s.done
}

func (s *Session) run() {
	// All per-connection state lives on this thread for the whole session.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)
	defer closeFD(s.fd)

	s.cfg.Metrics.SessionStarted()
	defer s.cfg.Metrics.SessionEnded()

	limits := s.cfg.Alloc.NewLimited()
	client, err := newClient(s.fd, limits, s.cfg.VersionResponse,
		s.cfg.NewDispatcher, s.log, s.cfg.Metrics)
	if err != nil {
		s.log.Printf("session setup failed: %v", err)
		return
	}
	defer client.close()

	fc := fetch.NewClient(s.cfg.Pool)
	fc.Register(s.fd, s)
	defer fc.Close()

	s.client = client
	s.fetch = fc

	if s.httpPhase() {
		s.cdpPhase()
	}

	// Give in-flight fetches a bounded chance to finish so their
	// connections return to the shared pool; Close aborts the rest. The
	// bridge keeps late protocol commands serviced while waiting.
	if fc.Pending() > 0 {
		if err := fc.DrainTransfers(s.cfg.Timeout); err != nil {
			s.log.Printf("transfer drain: %v", err)
		}
	}
}

// httpPhase serves the pre-upgrade connection. It returns true when the
// client transitioned to CDP mode.
func (s *Session) httpPhase() bool {
	for !s.shutdown.Load() {
		res, err := s.fetch.Tick(s.cfg.Timeout)
		if err != nil {
			s.log.Printf("session poll failed: %v", err)
			return false
		}
		if res != fetch.TickSocketReady {
			// Anything but raw-socket readability counts as inactivity.
			s.cfg.Metrics.Timeout()
			s.log.Printf("http phase inactivity timeout")
			return false
		}
		eof, err := s.client.readSocket()
		if err != nil {
			s.log.Printf("socket error: %v", err)
			return false
		}
		if eof {
			return false
		}
		done, err := s.client.process()
		if err != nil {
			s.log.Printf("http phase ended: %v", err)
		}
		if done {
			return false
		}
		if s.client.mode == ModeCDP {
			// An eager driver may pipeline its first frames behind the
			// upgrade request; drain them before the CDP loop blocks.
			if s.client.pending() > 0 {
				done, err := s.client.process()
				if err != nil {
					s.log.Printf("cdp phase ended: %v", err)
				}
				if done {
					return false
				}
			}
			return true
		}
	}
	return false
}

// cdpPhase serves the upgraded connection. The inactivity budget spans both
// wake-up sources: the control socket and the outbound HTTP client.
func (s *Session) cdpPhase() {
	lastActivity := time.Now()
	remaining := s.cfg.Timeout

	for !s.shutdown.Load() {
		switch s.client.dispatcher.PageWait(remaining) {
		case cdp.WaitSocketReady:
			if !s.serveSocket(&remaining, &lastActivity) {
				return
			}
		case cdp.WaitIdleNoPage:
			res, err := s.fetch.Tick(remaining)
			if err != nil {
				s.log.Printf("session poll failed: %v", err)
				return
			}
			if res != fetch.TickSocketReady {
				s.cfg.Metrics.Timeout()
				s.log.Printf("cdp phase inactivity timeout")
				return
			}
			if !s.serveSocket(&remaining, &lastActivity) {
				return
			}
		case cdp.WaitIdleDone:
			elapsed := time.Since(lastActivity)
			if elapsed > remaining {
				s.cfg.Metrics.Timeout()
				s.log.Printf("cdp phase inactivity timeout")
				return
			}
			remaining -= elapsed
			lastActivity = time.Now()
		}
	}
}

// serveSocket performs one read-and-process round and refreshes the
// inactivity budget. false means the session is over.
func (s *Session) serveSocket(remaining *time.Duration, lastActivity *time.Time) bool {
	eof, err := s.client.readSocket()
	if err != nil {
		s.log.Printf("socket error: %v", err)
		return false
	}
	if eof {
		return false
	}
	done, err := s.client.process()
	if err != nil {
		s.log.Printf("cdp phase ended: %v", err)
	}
	if done {
		return false
	}
	*remaining = s.cfg.Timeout
	*lastActivity = time.Now()
	return true
}

// EnterBlockingRead implements fetch.Bridge: the outbound client is about
// to drive a read on the control socket synchronously.
func (s *Session) EnterBlockingRead() {
	_ = setNonblock(s.fd, false)
}

// BlockingReadOne implements fetch.Bridge: one read-and-process round on
// behalf of the outbound client.
func (s *Session) BlockingReadOne() error {
	eof, err := s.client.readSocket()
	if err != nil {
		return err
	}
	if eof {
		return errPeerClosed
	}
	_, err = s.client.process()
	return err
}

// ExitBlockingRead implements fetch.Bridge.
func (s *Session) ExitBlockingRead() {
	_ = setNonblock(s.fd, true)
}
