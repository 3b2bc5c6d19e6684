package egress

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
)

// Streamer serves the sink's frames to TCP clients. Each frame payload is
// written length-prefixed (uint32, big-endian). A slow client loses frames
// at its subscription buffer, never stalling the pipeline.
type Streamer struct {
	log  *slog.Logger
	addr string
	sink *Sink
}

// NewStreamer creates a TCP streamer for the given sink. If log is nil,
// slog.Default() is used.
func NewStreamer(addr string, sink *Sink, log *slog.Logger) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{
		log:  log.With("component", "egress-streamer"),
		addr: addr,
		sink: sink,
	}
}

// Start begins accepting subscriber connections. It blocks until the
// context is cancelled.
func (s *Streamer) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("egress listen on %s: %w", s.addr, err)
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

func (s *Streamer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id, frames := s.sink.Subscribe()
	defer s.sink.Unsubscribe(id)
	s.log.Info("subscriber connected", "id", id, "remote", conn.RemoteAddr())

	var hdr [4]byte
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-frames:
			if !ok {
				return
			}
			binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
			if _, err := conn.Write(hdr[:]); err != nil {
				s.log.Debug("subscriber write error", "id", id, "error", err)
				return
			}
			if _, err := conn.Write(payload); err != nil {
				s.log.Debug("subscriber write error", "id", id, "error", err)
				return
			}
		}
	}
}
