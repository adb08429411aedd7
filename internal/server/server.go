package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"vending-machine/internal/api"
	"vending-machine/internal/metrics"
	"vending-machine/internal/service"
	"vending-machine/pkg"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrServerClosed  = errors.New("server closed")
	ErrInternalFault = errors.New("internal fault while handling connection")
)

// Handler turns a raw request into a response.
type Handler interface {
	Dispatch(ctx context.Context, raw []byte) (api.Response, error)
}

// Server accepts one connection at a time. Each connection carries exactly one
// request and one response and is closed afterwards.
type Server struct {
	addr    string
	framer  *Framer
	handler Handler
	log     pkg.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewServer(addr string, framer *Framer, handler Handler, log pkg.Logger) *Server {
	return &Server{
		addr:    addr,
		framer:  framer,
		handler: handler,
		log:     log,
	}
}

// Listen binds the listening socket. Serve calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Close is called, in
// which case it returns ErrServerClosed. A connection in progress is finished
// first, so shutdown waits at most one read timeout. A panic while handling a
// connection stops the loop and is returned wrapped in ErrInternalFault.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	s.log.Info("Vending server listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("Listener closed, exiting accept loop")
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.Error("accept failed", zap.Error(err))
			return fmt.Errorf("accept: %w", err)
		}

		if err := s.handle(ctx, conn); err != nil {
			_ = s.Close()
			return err
		}
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handle(ctx context.Context, conn net.Conn) (err error) {
	connID := uuid.NewString()
	log := []zap.Field{
		zap.String("conn", connID),
		zap.String("remote", conn.RemoteAddr().String()),
	}
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("unexpected fault, stopping server", append(log, zap.Any("panic", r))...)
			metrics.RecordConnection("fault")
			err = fmt.Errorf("%w: %v", ErrInternalFault, r)
		}
	}()

	start := time.Now()
	raw, readErr := s.framer.ReadMessage(conn)
	metrics.ObserveFraming(time.Since(start))

	switch {
	case errors.Is(readErr, ErrReadTimeout):
		s.log.Warn("Timeout during read", append(log, zap.Int("bytes", len(raw)))...)
		metrics.RecordConnection("timeout")
		s.write(conn, api.Response{
			Response: api.RespTimeout,
			Success:  false,
			Errors:   api.Errors{api.RespTimeout},
		}, log)
		return nil
	case errors.Is(readErr, ErrMessageTooLarge):
		s.log.Warn("message too large", append(log, zap.Int("bytes", len(raw)))...)
		metrics.RecordConnection("too_large")
		s.write(conn, api.Response{
			Response: api.RespFail,
			Success:  false,
			Errors:   api.Errors{api.RespParseError},
		}, log)
		return nil
	case readErr != nil && !errors.Is(readErr, ErrIncompleteMessage):
		s.log.Warn("read failed", append(log, zap.Error(readErr))...)
		metrics.RecordConnection("read_error")
		return nil
	}

	resp, dispatchErr := s.handler.Dispatch(service.WithConnectionID(ctx, connID), raw)
	outcome := "ok"
	if dispatchErr != nil {
		s.log.Warn("Exception hit during parse of data", append(log, zap.Error(dispatchErr))...)
		outcome = "parse_error"
	}
	if !s.write(conn, resp, log) {
		outcome = "write_error"
	}
	metrics.RecordConnection(outcome)
	s.log.Debug("request handled", append(log, zap.Bool("success", resp.Success))...)
	return nil
}

func (s *Server) write(conn net.Conn, resp api.Response, log []zap.Field) bool {
	payload, err := resp.Encode()
	if err != nil {
		s.log.Error("failed to encode response", append(log, zap.Error(err))...)
		return false
	}
	if s.framer.Timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.framer.Timeout))
	}
	if _, err := conn.Write(payload); err != nil {
		s.log.Warn("failed to write response", append(log, zap.Error(err))...)
		return false
	}
	return true
}
