// Package smtp implements the inbound mail listener: the session state
// machine, recipient resolution, and the fan-out into per-inbox storage.
package smtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/welldanyogia/dispomail/internal/metrics"
)

// Server accepts SMTP connections and services each one concurrently.
// One slow or malicious sender only ever occupies its own goroutine.
type Server struct {
	config   *Config
	resolver *Resolver
	handler  MessageHandler
	logger   *slog.Logger

	listener    net.Listener
	activeConns int64
	running     atomic.Bool
	wg          sync.WaitGroup
}

// NewServer creates an SMTP server
func NewServer(cfg *Config, resolver *Resolver, handler MessageHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   cfg,
		resolver: resolver,
		handler:  handler,
		logger:   logger,
	}
}

// Start binds the listen port and begins accepting connections
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.running.Store(true)

	s.logger.Info("SMTP server listening",
		slog.Int("port", s.config.Port),
		slog.String("hostname", s.config.Hostname),
		slog.Bool("open_mode", s.resolver.Open()),
	)

	go s.acceptLoop()

	return nil
}

// Stop closes the listener and waits for in-flight sessions to finish
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("SMTP server stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("SMTP server shutdown timed out")
	}

	return nil
}

// IsRunning reports whether the server is accepting connections
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// ActiveConnections returns the current number of open sessions
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// acceptLoop accepts incoming connections. The WaitGroup is bumped here,
// before the goroutine spawns, so Stop's wait can never miss a connection
// that was accepted but not yet registered.
func (s *Server) acceptLoop() {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Error("accept failed", slog.String("error", err.Error()))
				// Persistent accept errors (fd exhaustion) must not spin
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection services one SMTP connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}

	if !s.acquireConnection() {
		fmt.Fprintf(conn, "%d Too many connections\r\n", CodeServiceUnavailable)
		conn.Close()
		return
	}
	defer s.releaseConnection()

	metrics.SMTPConnectionsTotal.Inc()
	metrics.SMTPConnectionsActive.Inc()
	defer metrics.SMTPConnectionsActive.Dec()

	conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout))

	session := NewSession(conn, s.config, s.resolver, s.handler, remoteIP, s.logger)
	session.Run()
}

// acquireConnection claims a connection slot, false when at the ceiling
func (s *Server) acquireConnection() bool {
	for {
		current := atomic.LoadInt64(&s.activeConns)
		if current >= int64(s.config.MaxConnections) {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.activeConns, current, current+1) {
			return true
		}
	}
}

// releaseConnection returns a connection slot
func (s *Server) releaseConnection() {
	atomic.AddInt64(&s.activeConns, -1)
}
