package testutils

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
)

var errUnknownUser = errors.New("unknown user")

// Wire protocols served by a listener.
const (
	ProtocolBinary     = "memcached"
	ProtocolGreenstack = "greenstack"
)

// ServerConfig describes one listener of a test server.
type ServerConfig struct {
	// Protocol is ProtocolBinary (default) or ProtocolGreenstack.
	Protocol string
	// Network is "tcp4" (default) or "tcp6".
	Network string
	// TLS enables TLS with the given server configuration.
	TLS *tls.Config
}

// Server is an in-memory memcached speaking one protocol on one loopback
// port. Several servers can share an Engine.
type Server struct {
	Engine   *Engine
	config   ServerConfig
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// StartServer listens on a random loopback port and serves until the test
// ends. A nil engine creates a fresh one.
func StartServer(t testing.TB, engine *Engine, cfg ServerConfig) *Server {
	t.Helper()

	if engine == nil {
		engine = NewEngine()
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolBinary
	}
	if cfg.Network == "" {
		cfg.Network = "tcp4"
	}

	addr := "127.0.0.1:0"
	if cfg.Network == "tcp6" {
		addr = "[::1]:0"
	}
	listener, err := net.Listen(cfg.Network, addr)
	if err != nil {
		if cfg.Network == "tcp6" {
			t.Skipf("IPv6 loopback unavailable: %v", err)
		}
		t.Fatalf("Failed to start test server: %v", err)
	}
	if cfg.TLS != nil {
		listener = tls.NewListener(listener, cfg.TLS)
	}

	s := &Server{
		Engine:   engine,
		config:   cfg,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}
	t.Cleanup(s.Close)

	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.Engine.connections.Add(1)
	defer s.Engine.connections.Add(-1)

	sess := &session{engine: s.Engine}
	if s.config.Protocol == ProtocolGreenstack {
		serveGreenstack(conn, sess)
	} else {
		serveBinary(conn, sess)
	}
}

// DropConnections closes every accepted connection, leaving the listener
// open.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops the listener and every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
