// Package tcpserver accepts inbound TCP connections and hands each one out as
// a connection.Session backed by a netconn.Conn. Consumers subscribe to
// Accepted and attach their own streams before the session is started.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/netstream/connection"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/metrics"
	"github.com/cyberinferno/netstream/netconn"
	"github.com/cyberinferno/netstream/queue"
	"github.com/cyberinferno/netstream/registry"
	"github.com/cyberinferno/netstream/stream"
)

// ErrServerRunning is returned by Start on a server that is already running.
var ErrServerRunning = errors.New("tcpserver: already running")

// Config holds configuration for a TCPServer.
type Config struct {
	// Name identifies the server in logs and names its executor.
	Name string
	// Addr is the address to listen on, e.g. "127.0.0.1:0".
	Addr string
	// Conn is applied to every accepted connection. Endpoint and Parameters
	// are taken from the accepted connection.
	Conn netconn.Config
	// ShutdownTimeout bounds how long Stop waits for sessions to report
	// Cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config listening on addr.
//
// Parameters:
//   - addr: The listen address
//
// Returns:
//   - A Config with Name "tcp", write timeout 10s and a 5s shutdown timeout
func DefaultConfig(addr string) Config {
	return Config{
		Name:            "tcp",
		Addr:            addr,
		Conn:            netconn.Config{WriteTimeout: 10 * time.Second},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Option configures a TCPServer.
type Option func(*TCPServer)

// WithLogger sets the logger used by the server and its sessions.
func WithLogger(l logger.Logger) Option {
	return func(s *TCPServer) {
		s.log = l
	}
}

// WithMetrics sets the collectors updated by accepted sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *TCPServer) {
		s.metrics = m
	}
}

// WithSessionOptions adds options applied to every accepted session.
func WithSessionOptions(opts ...connection.Option) Option {
	return func(s *TCPServer) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

// TCPServer accepts connections and tracks the resulting sessions until they
// reach a terminal state. All sessions are started on one serial executor
// owned by the server.
type TCPServer struct {
	cfg         Config
	log         logger.Logger
	metrics     *metrics.Metrics
	sessionOpts []connection.Option

	mu       sync.Mutex
	listener net.Listener
	exec     *queue.Queue
	running  atomic.Bool
	loopDone chan struct{}

	sessions *registry.Registry[*connection.Session]
	accepted *stream.Broadcast[Accepted]
	live     sync.WaitGroup
}

// New creates a stopped TCPServer.
//
// Parameters:
//   - cfg: Listen address and per-connection settings (e.g. from DefaultConfig)
//   - opts: Optional logger, metrics and session options
//
// Returns:
//   - A *TCPServer; call Start to begin accepting
func New(cfg Config, opts ...Option) *TCPServer {
	s := &TCPServer{
		cfg:      cfg,
		log:      logger.NewNopLogger(),
		sessions: registry.New[*connection.Session](),
		accepted: stream.NewBroadcast[Accepted](),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With(logger.Field{Key: "server", Value: cfg.Name})
	return s
}

// Start binds to Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrServerRunning if already running, or the listen error
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("server failed to start", logger.ErrorField(err))
		return fmt.Errorf("server %s failed to start: %w", s.cfg.Name, err)
	}

	s.listener = ln
	s.exec = queue.New("tcpserver." + s.cfg.Name)
	s.loopDone = make(chan struct{})
	s.running.Store(true)

	s.log.Info("server started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.acceptLoop(ln, s.exec, s.loopDone)

	return nil
}

// Addr returns the bound listen address, or nil when not running.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Accepted returns the stream of accepted sessions. Values are delivered on
// the accept goroutine before the session is started.
func (s *TCPServer) Accepted() stream.Stream[Accepted] {
	return s.accepted.Stream()
}

// Session returns the live session registered under id.
func (s *TCPServer) Session(id uint32) (*connection.Session, bool) {
	return s.sessions.Get(id)
}

// Len returns the number of live sessions.
func (s *TCPServer) Len() int {
	return s.sessions.Len()
}

// Stop closes the listener, cancels every live session and waits up to
// ShutdownTimeout for them to report Cancelled. Safe to call when the server
// is not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.running.Store(false)
	_ = s.listener.Close()
	<-s.loopDone

	s.sessions.Range(func(_ uint32, session *connection.Session) bool {
		session.Cancel()
		return true
	})

	if !s.waitSessions() {
		s.log.Warn("sessions still live after shutdown timeout",
			logger.Field{Key: "sessions", Value: s.sessions.Len()})
	}

	s.exec.Close()
	s.listener = nil
	s.log.Info("server stopped")
}

func (s *TCPServer) waitSessions() bool {
	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *TCPServer) acceptLoop(ln net.Listener, exec queue.Executor, done chan struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error("accept error", logger.ErrorField(err))
			continue
		}

		s.serve(conn, exec)
	}
}
