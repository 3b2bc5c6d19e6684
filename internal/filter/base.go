package filter

import (
	"log/slog"

	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/metrics"
	"github.com/zsiec/weave/internal/queue"
)

// DefaultID is the implicit port used by the one-to-one wiring operations.
const DefaultID = 0

// UnassignedWorker marks a filter not yet bound to a worker.
const UnassignedWorker = -1

// Base carries a filter's port maps and implements the wiring contract.
// Port maps are mutated only by the control path while the owning worker is
// stopped, and read by the worker loop while running; the pipeline manager
// enforces that separation, so Base itself holds no lock.
type Base struct {
	log     *slog.Logger
	readers map[int]*queue.Reader
	writers map[int]*queue.Writer

	nextReader int
	nextWriter int
	workerID   int

	alloc    media.Alloc
	queueCap int
}

// NewBase creates the port state for a filter whose output frames are
// allocated by alloc. Edges created by this filter's writers use capacity
// queueCap, or queue.DefaultCapacity when queueCap is 0.
func NewBase(alloc media.Alloc, queueCap int, log *slog.Logger) Base {
	if queueCap <= 0 {
		queueCap = queue.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return Base{
		log:      log,
		readers:  make(map[int]*queue.Reader),
		writers:  make(map[int]*queue.Writer),
		workerID: UnassignedWorker,
		alloc:    alloc,
		queueCap: queueCap,
	}
}

// Base returns b, satisfying the Filter interface for embedders.
func (b *Base) Base() *Base { return b }

// WorkerID returns the owning worker, or UnassignedWorker.
func (b *Base) WorkerID() int { return b.workerID }

// SetWorkerID records the owning worker.
func (b *Base) SetWorkerID(id int) { b.workerID = id }

// SetAlloc replaces the output frame allocator. Only valid before the
// filter's writers are wired; existing queues keep their original shape.
func (b *Base) SetAlloc(alloc media.Alloc) { b.alloc = alloc }

// Reader returns the reader bound to the given port, or nil.
func (b *Base) Reader(id int) *queue.Reader { return b.readers[id] }

// Writer returns the writer bound to the given port, or nil.
func (b *Base) Writer(id int) *queue.Writer { return b.writers[id] }

// ReaderCount returns the number of bound input ports.
func (b *Base) ReaderCount() int { return len(b.readers) }

// WriterCount returns the number of bound output ports.
func (b *Base) WriterCount() int { return len(b.writers) }

// Readers returns the bound reader ports. The map is shared, not copied;
// callers iterate it only from the contexts allowed for port access.
func (b *Base) Readers() map[int]*queue.Reader { return b.readers }

// Writers returns the bound writer ports. The map is shared, not copied;
// callers iterate it only from the contexts allowed for port access.
func (b *Base) Writers() map[int]*queue.Writer { return b.writers }

// GenerateWriterID returns a writer port ID unused on this filter.
func (b *Base) GenerateWriterID() int {
	for {
		b.nextWriter++
		if _, used := b.writers[b.nextWriter]; !used {
			return b.nextWriter
		}
	}
}

// GenerateReaderID returns a reader port ID unused on this filter.
func (b *Base) GenerateReaderID() int {
	for {
		b.nextReader++
		if _, used := b.readers[b.nextReader]; !used {
			return b.nextReader
		}
	}
}

// ConnectOneToOne wires this filter's default writer to dst's default
// reader over a new exclusive queue.
func (b *Base) ConnectOneToOne(dst Filter) bool {
	return b.ConnectManyToMany(dst, DefaultID, DefaultID, false)
}

// ConnectOneToMany wires this filter's default writer to a specific reader
// port on dst.
func (b *Base) ConnectOneToMany(dst Filter, dstReaderID int) bool {
	return b.ConnectManyToMany(dst, dstReaderID, DefaultID, false)
}

// ConnectManyToOne wires a specific writer port to dst's default reader.
func (b *Base) ConnectManyToOne(dst Filter, writerID int, shared bool) bool {
	return b.ConnectManyToMany(dst, DefaultID, writerID, shared)
}

// ConnectManyToMany wires a specific writer port to a specific reader port
// on dst. With shared set, the edge accepts a second reader: wiring the
// same writer port again attaches the new reader to the existing queue, so
// both consumers observe the identical frame sequence.
func (b *Base) ConnectManyToMany(dst Filter, dstReaderID, writerID int, shared bool) bool {
	d := dst.Base()
	if _, busy := d.readers[dstReaderID]; busy {
		b.log.Error("connect: destination reader port busy", "reader", dstReaderID)
		return false
	}

	if w, ok := b.writers[writerID]; ok {
		// Fan-out onto an already-wired shared edge.
		if !shared || !w.Queue().Shared() {
			b.log.Error("connect: writer port busy on exclusive edge", "writer", writerID)
			return false
		}
		r, err := w.Queue().AttachReader()
		if err != nil {
			b.log.Error("connect: shared edge cannot take another reader", "writer", writerID, "error", err)
			return false
		}
		d.readers[dstReaderID] = r
		return true
	}

	if b.alloc == nil {
		b.log.Error("connect: filter has no output frame allocator")
		return false
	}

	q, err := queue.New(b.queueCap, shared, b.alloc)
	if err != nil {
		b.log.Error("connect: queue allocation failed", "error", err)
		return false
	}
	r, err := q.AttachReader()
	if err != nil {
		b.log.Error("connect: reader attach failed", "error", err)
		return false
	}

	b.writers[writerID] = queue.NewWriter(q)
	d.readers[dstReaderID] = r
	metrics.QueuesCreated.Inc()
	return true
}

// Disconnect tears down the edge between this filter's writer port and
// dst's reader port. The reader side always detaches; the writer port is
// released once no active reader remains on the queue, so disconnecting
// one leg of a shared edge leaves the other intact.
func (b *Base) Disconnect(dst Filter, writerID, readerID int) bool {
	d := dst.Base()
	w, ok := b.writers[writerID]
	if !ok {
		b.log.Error("disconnect: unknown writer port", "writer", writerID)
		return false
	}
	r, ok := d.readers[readerID]
	if !ok {
		b.log.Error("disconnect: unknown reader port", "reader", readerID)
		return false
	}
	if r.Queue() != w.Queue() {
		b.log.Error("disconnect: ports are not endpoints of the same edge",
			"writer", writerID, "reader", readerID)
		return false
	}

	r.Detach()
	delete(d.readers, readerID)
	if w.Queue().ActiveReaders() == 0 {
		delete(b.writers, writerID)
	}
	return true
}

// baseState fills the port and worker fields shared by every filter type.
func (b *Base) baseState(t Type) State {
	return State{
		Type:     t.String(),
		WorkerID: b.workerID,
		Readers:  len(b.readers),
		Writers:  len(b.writers),
	}
}

// processOneToOne runs a single-input single-output transform: peek the
// default reader, transform into the default writer's rear slot, commit,
// release. A full output ring consumes the input anyway and counts a drop,
// keeping the producer-drops-newest policy at every stage.
func (b *Base) processOneToOne(transform func(in, out media.Frame) error) (bool, error) {
	r := b.readers[DefaultID]
	w := b.writers[DefaultID]
	if r == nil || w == nil {
		return false, nil
	}
	in := r.Front()
	if in == nil {
		return false, nil
	}

	out := w.Rear()
	if out == nil {
		r.Release()
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		return true, nil
	}

	err := transform(in, out)
	r.Release()
	if err != nil {
		metrics.FramesDropped.WithLabelValues("transform_error").Inc()
		return true, err
	}
	w.Commit()
	metrics.FramesProcessed.Inc()
	return true, nil
}
