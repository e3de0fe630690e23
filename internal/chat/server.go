package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andy6609/direct-chat-server/internal/history"
	"github.com/andy6609/direct-chat-server/internal/protocol"
)

type Options struct {
	OutboxSize   int
	MaxFrameSize int
	WriteTimeout time.Duration
}

// Server accepts connections and runs one Router session per connection.
type Server struct {
	addr   string
	logger *slog.Logger
	reg    *Registry
	router *Router
	opts   Options

	mu         sync.Mutex
	running    bool
	listener   net.Listener
	acceptDone chan struct{}
	conns      sync.WaitGroup
	upgrader   websocket.Upgrader
}

func NewServer(addr string, sink history.Sink, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry(logger)
	router := NewRouter(reg, sink, logger, opts.OutboxSize)
	if opts.MaxFrameSize > 0 {
		router.maxFrameSize = opts.MaxFrameSize
	}
	return &Server{
		addr:   addr,
		logger: logger,
		reg:    reg,
		router: router,
		opts:   opts,
	}
}

func (s *Server) Registry() *Registry { return s.reg }

// Start listens on the configured address and accepts in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.StartListener(ln)
}

// StartListener accepts on an existing listener in the background.
func (s *Server) StartListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already started")
	}
	s.running = true
	s.listener = ln
	s.acceptDone = make(chan struct{})

	go s.acceptLoop(ln, s.acceptDone)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for the accept loop to exit.
// Sessions already running are left to finish on their own; see Wait.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ln, done := s.listener, s.acceptDone
	s.mu.Unlock()

	s.logger.Info("shutting down")
	_ = ln.Close()
	<-done
	s.logger.Info("listener closed", "connected", s.reg.Usernames())
}

// Wait blocks until every session has ended or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still running: %w", ctx.Err())
	}
}

func (s *Server) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.isRunning() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		addr := conn.RemoteAddr().String()
		s.logger.Info("client connected", "addr", addr)
		transport := protocol.NewConn(conn, s.transportOptions()...)
		if !s.serve(transport, addr) {
			_ = transport.Close()
		}
	}
}

// WebSocketHandler serves the same sessions over WebSocket, one envelope
// per message.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isRunning() {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}
		s.logger.Info("websocket client connected", "addr", r.RemoteAddr)
		transport := protocol.NewWSConn(ws, s.transportOptions()...)
		if !s.serve(transport, r.RemoteAddr) {
			_ = transport.Close()
		}
	})
}

// serve runs a session in its own goroutine. A panic in one session is
// logged and contained.
func (s *Server) serve(t Transport, addr string) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.conns.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.conns.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("session panic", "addr", addr, "panic", r)
				ConnectionErrors.WithLabelValues("panic").Inc()
			}
		}()
		s.router.Serve(context.Background(), t, addr)
	}()
	return true
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) transportOptions() []protocol.Option {
	return []protocol.Option{
		protocol.WithMaxFrameSize(s.opts.MaxFrameSize),
		protocol.WithWriteTimeout(s.opts.WriteTimeout),
	}
}
