// File: server/server.go
// Package server accepts debugging connections and supervises their
// sessions. Connections are served one at a time: a driver gets exclusive
// control of the browser, and the next connection waits until the current
// session ends.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/momentics/cdpserve/alloc"
	"github.com/momentics/cdpserve/cdp"
	"github.com/momentics/cdpserve/fetch"
	"github.com/momentics/cdpserve/metrics"
	"github.com/momentics/cdpserve/session"
	"github.com/momentics/cdpserve/upgrade"
	"golang.org/x/sys/unix"
)

// Config holds server-wide settings.
type Config struct {
	// Addr is the listen address, "ip:port". Port 0 picks a free port.
	Addr string

	// Timeout is the per-session inactivity timeout.
	Timeout time.Duration

	// SessionMemory bounds the tracked buffer memory of one session.
	SessionMemory int64

	// PoolMaxIdle caps idle outbound connections kept for reuse.
	PoolMaxIdle int

	Logger        *log.Logger
	Metrics       *metrics.Collector
	NewDispatcher func() cdp.Dispatcher
}

// DefaultConfig returns the stock settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:          "127.0.0.1:9222",
		Timeout:       10 * time.Second,
		SessionMemory: 16 << 20,
		PoolMaxIdle:   8,
	}
}

// Server owns the listening socket and the shared session factories.
type Server struct {
	cfg *Config
	log *log.Logger

	lfd  int
	addr string

	pool    *fetch.Pool
	allocs  *alloc.Factory
	version []byte

	mu       sync.Mutex
	current  *session.Session
	shutdown bool
}

// New binds the listening socket.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %s: %w", cfg.Addr, err)
	}
	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}
	_ = unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(lfd, sa); err != nil {
		_ = unix.Close(lfd)
		return nil, fmt.Errorf("server: bind %s: %w", cfg.Addr, err)
	}
	if err := unix.Listen(lfd, 16); err != nil {
		_ = unix.Close(lfd)
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	bound, err := unix.Getsockname(lfd)
	if err != nil {
		_ = unix.Close(lfd)
		return nil, fmt.Errorf("server: getsockname: %w", err)
	}
	sa4 := bound.(*unix.SockaddrInet4)
	addr := fmt.Sprintf("%s:%d", net.IP(sa4.Addr[:]).String(), sa4.Port)

	return &Server{
		cfg:     cfg,
		log:     logger,
		lfd:     lfd,
		addr:    addr,
		pool:    fetch.NewPool(cfg.PoolMaxIdle),
		allocs:  alloc.NewFactory(cfg.SessionMemory),
		version: upgrade.VersionResponse(addr),
	}, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string { return s.addr }

// Run accepts connections until Shutdown. Each accepted socket is handed to
// a session on its own thread; the accept loop joins it before accepting
// the next connection.
func (s *Server) Run() error {
	s.log.Printf("listening on %s", s.addr)
	for {
		nfd, _, err := unix.Accept4(s.lfd, unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if s.isShutdown() {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		sess := session.New(nfd, &session.Config{
			Timeout:         s.cfg.Timeout,
			Pool:            s.pool,
			Alloc:           s.allocs,
			VersionResponse: s.version,
			NewDispatcher:   s.cfg.NewDispatcher,
			Logger:          s.log,
			Metrics:         s.cfg.Metrics,
		})
		s.setCurrent(sess)
		sess.Start()
		sess.Join()
		s.setCurrent(nil)
	}
}

// Shutdown stops accepting, interrupts the live session, and releases the
// shared pool. Run returns once the current session has been joined.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	current := s.current
	s.mu.Unlock()

	_ = unix.Close(s.lfd)
	if current != nil {
		current.Shutdown()
	}
	s.pool.Close()
}

func (s *Server) setCurrent(sess *session.Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
