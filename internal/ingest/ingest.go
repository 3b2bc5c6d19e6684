// Package ingest implements the receiver endpoint of the pipeline: the
// source filter that turns payload chunks arriving from network sessions
// into frames on its writer queues, plus the session registry the SRT
// listener feeds.
package ingest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/metrics"
)

// sourceFrameBytes is the payload capacity of frames produced by the
// source. Sized for the largest chunk the SRT receiver hands over.
const sourceFrameBytes = 16 * 1024

// inboxDepth bounds packets queued between the network goroutines and the
// source's worker. Beyond it the newest packet is dropped, matching the
// drop-newest policy of the frame queues downstream.
const inboxDepth = 64

type packet struct {
	payload []byte
	pts     time.Time
}

// Source is the receiver endpoint filter. It has no readers; each
// Process call moves one inbound packet onto every wired writer queue, so
// every path originating at the receiver sees the same sequence.
type Source struct {
	base  filter.Base
	log   *slog.Logger
	inbox chan packet
}

// NewSource creates the receiver endpoint. If log is nil, slog.Default()
// is used.
func NewSource(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	s := &Source{
		log:   log.With("component", "source"),
		inbox: make(chan packet, inboxDepth),
	}
	s.base = filter.NewBase(
		media.AudioAlloc(sourceFrameBytes, 0, 0, media.SampleFmtNone),
		0, log,
	)
	return s
}

func (s *Source) Base() *filter.Base { return &s.base }
func (s *Source) Type() filter.Type  { return filter.TypeSource }

// Push hands a payload chunk to the source from a network goroutine. The
// chunk is copied; the caller may reuse its buffer. Returns false when the
// inbox is full and the chunk was dropped.
func (s *Source) Push(payload []byte) bool {
	p := packet{payload: make([]byte, len(payload)), pts: time.Now()}
	copy(p.payload, payload)
	select {
	case s.inbox <- p:
		return true
	default:
		metrics.FramesDropped.WithLabelValues("inbox_full").Inc()
		return false
	}
}

// Process moves one pending packet onto every writer queue. No packet
// pending is the no-work case.
func (s *Source) Process() (bool, error) {
	var p packet
	select {
	case p = <-s.inbox:
	default:
		return false, nil
	}

	if s.base.WriterCount() == 0 {
		metrics.FramesDropped.WithLabelValues("no_subscriber").Inc()
		return true, nil
	}
	for id := range s.base.Writers() {
		w := s.base.Writer(id)
		f := w.Rear()
		if f == nil {
			metrics.FramesDropped.WithLabelValues("queue_full").Inc()
			continue
		}
		if !f.Raw().SetPayload(p.payload) {
			metrics.FramesDropped.WithLabelValues("oversize").Inc()
			continue
		}
		f.Raw().PTS = p.pts
		w.Commit()
		metrics.FramesProcessed.Inc()
	}
	return true, nil
}

func (s *Source) State() filter.State {
	return filter.State{
		Type:     filter.TypeSource.String(),
		WorkerID: s.base.WorkerID(),
		Readers:  s.base.ReaderCount(),
		Writers:  s.base.WriterCount(),
	}
}

// SessionStats captures connection-level metrics for one ingest session.
type SessionStats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Session is one active publish connection feeding the source.
type Session struct {
	Key       string
	StartedAt time.Time

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead notes one successful socket read of n bytes.
func (s *Session) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
	metrics.IngestBytes.Add(float64(n))
}

// SetRemoteAddr stores the publisher address for diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() SessionStats {
	addr, _ := s.remoteAddr.Load().(string)
	return SessionStats{
		Key:           s.Key,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest sessions by key. It is the rendezvous
// point between the SRT listener and the diagnostics surfaces.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry. If log is nil,
// slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest-registry"),
		sessions: make(map[string]*Session),
	}
}

// Register creates a session under key. Returns nil when the key is
// already publishing.
func (r *Registry) Register(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[key]; ok {
		r.log.Warn("rejecting duplicate publish", "key", key)
		return nil
	}
	s := &Session{Key: key, StartedAt: time.Now()}
	r.sessions[key] = s
	r.log.Info("session registered", "key", key)
	return s
}

// Unregister removes the session under key.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	_, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if ok {
		r.log.Info("session unregistered", "key", key)
	}
}

// Stats returns snapshots of every active session.
func (r *Registry) Stats() []SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	return out
}
