// Package srt accepts SRT publish connections and feeds their payload to
// the pipeline's source endpoint.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/weave/internal/ingest"
)

// An SRT datagram carries at most 7 MPEG-TS packets; reads are sized in
// multiples of that so one call can drain a burst.
const (
	tsPacketSize  = 188
	readChunkSize = 7 * tsPacketSize * 10
)

// ingestLatencyNs is the libsrt receive latency window, in nanoseconds.
const ingestLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections, registers each as an
// ingest session, and pushes its payload chunks to the source filter.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
	source   *ingest.Source
}

// NewServer creates an SRT server that listens on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, source *ingest.Source, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
		source:   source,
	}
}

// rejectAnonymous refuses handshakes that carry no stream ID. The ID
// becomes the session key, so a publisher without one has no identity to
// register under.
func rejectAnonymous(req srtgo.ConnRequest) srtgo.RejectReason {
	if req.StreamID == "" {
		return srtgo.RejPeer
	}
	return 0
}

// Start accepts publish connections until the context is cancelled. Each
// connection is served on its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = ingestLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen %s: %w", s.addr, err)
	}
	l.SetAcceptRejectFunc(rejectAnonymous)
	s.log.Info("accepting publishers", "addr", s.addr)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		go s.serve(ctx, conn)
	}
}

// serve pumps one publisher's payload into the source until the
// connection drops, the context ends, or the key turns out to be taken.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := streamKey(conn.StreamID())
	session := s.registry.Register(key)
	if session == nil {
		s.log.Warn("stream key already publishing, dropping connection",
			"stream_key", key, "remote", conn.RemoteAddr())
		return
	}
	defer s.registry.Unregister(key)

	session.SetRemoteAddr(conn.RemoteAddr().String())
	s.log.Info("publisher connected", "stream_key", key, "remote", conn.RemoteAddr())

	buf := make([]byte, readChunkSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read failed", "stream_key", key, "error", err)
			}
			break
		}
		session.RecordRead(n)
		s.source.Push(buf[:n])
	}

	st := session.Stats()
	s.log.Info("publisher disconnected", "stream_key", key,
		"bytes", st.BytesReceived, "uptime_ms", st.UptimeMs)
}

// streamKey normalizes a publisher's stream ID into a session key. All
// leading slashes go, as does the conventional live/ prefix; an ID with
// nothing left falls back to "default".
func streamKey(id string) string {
	id = strings.TrimLeft(id, "/")
	id = strings.TrimPrefix(id, "live/")
	if id == "" {
		return "default"
	}
	return id
}
