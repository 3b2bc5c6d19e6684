package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// Server accepts control connections and runs a decode-dispatch-encode
// loop per connection. Events from all connections funnel into the same
// Controller, whose manager serializes mutations.
type Server struct {
	log  *slog.Logger
	addr string
	ctrl *Controller
}

// NewServer creates a control server listening on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, ctrl *Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:  log.With("component", "control-server"),
		addr: addr,
		ctrl: ctrl,
	}
}

// Start begins accepting control connections. It blocks until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.log.Info("client connected", "remote", conn.RemoteAddr())

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("decode error", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if err := enc.Encode(s.ctrl.Dispatch(req)); err != nil {
			s.log.Debug("encode error", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}
