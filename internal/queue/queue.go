// Package queue implements the bounded frame ring that connects a writer
// port to one or two reader ports. The fast path is lock-free: a single
// producer and each consumer touch only atomic head/tail indices, so a
// worker thread never blocks another through a queue.
package queue

import (
	"errors"
	"sync/atomic"

	"github.com/zsiec/weave/internal/media"
)

// MinCapacity is the smallest usable ring. One slot is sacrificed to tell
// empty from full, so capacity 2 buffers a single in-flight frame.
const MinCapacity = 2

// DefaultCapacity is the per-edge ring size used when the connect call
// does not override it. Sized to absorb scheduling jitter between workers
// without hoarding memory.
const DefaultCapacity = 8

// maxReaders is fixed by the shared-queue contract: one writer feeding at
// most two readers on the same edge.
const maxReaders = 2

var (
	ErrCapacity       = errors.New("queue: capacity below minimum")
	ErrReaderExceeded = errors.New("queue: all reader slots attached")
	ErrNilAlloc       = errors.New("queue: nil frame allocator")
)

// Queue is a fixed-capacity ring of pre-allocated frames. Slots are
// written at head and consumed at each attached reader's tail; a slot is
// reused only once every active reader has advanced past it.
type Queue struct {
	slots  []media.Frame
	n      uint32
	shared bool

	head    atomic.Uint32
	tails   [maxReaders]atomic.Uint32
	active  [maxReaders]atomic.Bool
	readers int

	drops atomic.Int64
}

// New creates a queue of the given capacity whose slots are allocated by
// alloc, which fixes the frame shape for the life of the edge. A shared
// queue accepts two readers, an exclusive one a single reader.
func New(capacity int, shared bool, alloc media.Alloc) (*Queue, error) {
	if capacity < MinCapacity {
		return nil, ErrCapacity
	}
	if alloc == nil {
		return nil, ErrNilAlloc
	}

	q := &Queue{
		slots:  make([]media.Frame, capacity),
		n:      uint32(capacity),
		shared: shared,
	}
	for i := range q.slots {
		q.slots[i] = alloc()
	}
	return q, nil
}

// Shared reports whether the queue accepts a second reader.
func (q *Queue) Shared() bool { return q.shared }

// Capacity returns the ring size, including the sacrificed slot.
func (q *Queue) Capacity() int { return int(q.n) }

// Drops returns the number of producer-side drops since creation.
func (q *Queue) Drops() int64 { return q.drops.Load() }

// ActiveReaders returns the number of attached, non-detached readers.
func (q *Queue) ActiveReaders() int {
	n := 0
	for i := 0; i < maxReaders; i++ {
		if q.active[i].Load() {
			n++
		}
	}
	return n
}

// Rear returns the writable slot at head, or nil when the ring is full.
// A nil return means the producer must discard its newest output; committed
// slots are never overwritten before every active reader has seen them. In
// shared mode the laggard reader decides fullness.
func (q *Queue) Rear() media.Frame {
	next := (q.head.Load() + 1) % q.n
	for i := 0; i < maxReaders; i++ {
		if q.active[i].Load() && q.tails[i].Load() == next {
			q.drops.Add(1)
			return nil
		}
	}
	return q.slots[q.head.Load()]
}

// Commit publishes the slot returned by the last successful Rear, making
// it visible to the readers.
func (q *Queue) Commit() {
	q.head.Store((q.head.Load() + 1) % q.n)
}

// len reports the number of committed, unread frames as seen by the given
// reader tail. The value is advisory under concurrent access.
func (q *Queue) len(idx int) int {
	head := q.head.Load()
	tail := q.tails[idx].Load()
	return int((head + q.n - tail) % q.n)
}

// AttachReader binds the next free reader slot and returns its handle.
// Readers attach at the current head, observing only frames committed
// after attachment.
func (q *Queue) AttachReader() (*Reader, error) {
	limit := 1
	if q.shared {
		limit = maxReaders
	}
	if q.readers >= limit {
		return nil, ErrReaderExceeded
	}
	idx := q.readers
	q.readers++
	q.tails[idx].Store(q.head.Load())
	q.active[idx].Store(true)
	return &Reader{q: q, idx: idx}, nil
}

// Reader is a consumer-side handle. Each reader owns its tail; two readers
// of a shared queue observe the identical committed sequence.
type Reader struct {
	q   *Queue
	idx int
}

// Front returns the oldest unread frame, or nil when the reader has
// consumed everything committed so far.
func (r *Reader) Front() media.Frame {
	tail := r.q.tails[r.idx].Load()
	if tail == r.q.head.Load() {
		return nil
	}
	return r.q.slots[tail]
}

// Release advances past the frame returned by the last non-nil Front,
// allowing the producer to eventually reclaim the slot.
func (r *Reader) Release() {
	tail := r.q.tails[r.idx].Load()
	r.q.tails[r.idx].Store((tail + 1) % r.q.n)
}

// Len reports the committed, unread frame count for this reader.
func (r *Reader) Len() int { return r.q.len(r.idx) }

// Detach marks the reader inactive. The producer stops gating fullness on
// this tail, so a departed reader of a shared edge cannot stall the other.
func (r *Reader) Detach() {
	r.q.active[r.idx].Store(false)
}

// Queue returns the queue this reader consumes, used when a second reader
// joins a shared edge.
func (r *Reader) Queue() *Queue { return r.q }

// Writer is the producer-side handle.
type Writer struct {
	q *Queue
}

// NewWriter binds the producer side of q.
func NewWriter(q *Queue) *Writer { return &Writer{q: q} }

// Rear returns the writable slot, or nil when the ring is full.
func (w *Writer) Rear() media.Frame { return w.q.Rear() }

// Commit publishes the slot returned by the last successful Rear.
func (w *Writer) Commit() { w.q.Commit() }

// Queue returns the underlying queue.
func (w *Writer) Queue() *Queue { return w.q }
