// Package egress implements the transmitter endpoint of the pipeline: the
// sink filter that fans consumed frames out to network subscribers, plus
// the TCP streamer serving them.
package egress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/metrics"
)

// subscriberDepth is the per-subscriber frame buffer. A subscriber that
// falls this far behind starts losing frames; it never blocks the sink.
const subscriberDepth = 64

// Sink is the transmitter endpoint filter. It has no writers; each
// Process call drains at most one frame from every wired reader queue and
// broadcasts the payloads to the current subscribers.
type Sink struct {
	base filter.Base
	log  *slog.Logger

	mu      sync.RWMutex
	subs    map[int]chan []byte
	nextSub int

	framesOut atomic.Int64
}

// NewSink creates the transmitter endpoint. If log is nil, slog.Default()
// is used.
func NewSink(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		base: filter.NewBase(nil, 0, log),
		log:  log.With("component", "sink"),
		subs: make(map[int]chan []byte),
	}
}

func (s *Sink) Base() *filter.Base { return &s.base }
func (s *Sink) Type() filter.Type  { return filter.TypeSink }

// Process drains one frame per reader and broadcasts each payload. All
// readers empty is the no-work case.
func (s *Sink) Process() (bool, error) {
	any := false
	for _, r := range s.base.Readers() {
		f := r.Front()
		if f == nil {
			continue
		}
		payload := make([]byte, f.Raw().Length)
		copy(payload, f.Raw().Payload())
		r.Release()

		s.broadcast(payload)
		s.framesOut.Add(1)
		metrics.EgressFrames.Inc()
		any = true
	}
	return any, nil
}

// FramesOut returns the number of frames consumed since creation.
func (s *Sink) FramesOut() int64 { return s.framesOut.Load() }

func (s *Sink) broadcast(payload []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- payload:
		default:
			metrics.FramesDropped.WithLabelValues("slow_subscriber").Inc()
		}
	}
}

// Subscribe registers a frame consumer and returns its ID and channel.
// The channel carries one payload per frame and is closed on Unsubscribe.
func (s *Sink) Subscribe() (int, <-chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	ch := make(chan []byte, subscriberDepth)
	s.subs[id] = ch
	s.log.Info("subscriber added", "id", id)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Sink) Unsubscribe(id int) {
	s.mu.Lock()
	ch, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
		s.log.Info("subscriber removed", "id", id)
	}
}

// SubscriberCount returns the number of attached subscribers.
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Sink) State() filter.State {
	return filter.State{
		Type:     filter.TypeSink.String(),
		WorkerID: s.base.WorkerID(),
		Readers:  s.base.ReaderCount(),
		Writers:  s.base.WriterCount(),
	}
}
