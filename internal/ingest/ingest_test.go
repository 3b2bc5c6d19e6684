package ingest

import (
	"bytes"
	"testing"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/media"
)

// drain is a port-lending neighbor for wiring the source under test.
type drain struct {
	base filter.Base
}

func newDrain() *drain {
	d := &drain{}
	d.base = filter.NewBase(media.AudioAlloc(64, 0, 0, media.SampleFmtNone), 0, nil)
	return d
}

func (d *drain) Base() *filter.Base     { return &d.base }
func (d *drain) Type() filter.Type      { return filter.TypeNone }
func (d *drain) Process() (bool, error) { return false, nil }
func (d *drain) State() filter.State    { return filter.State{} }

func (d *drain) pull() []byte {
	r := d.base.Reader(filter.DefaultID)
	f := r.Front()
	if f == nil {
		return nil
	}
	p := make([]byte, f.Raw().Length)
	copy(p, f.Raw().Payload())
	r.Release()
	return p
}

func TestSourceProcessNoWork(t *testing.T) {
	t.Parallel()

	s := NewSource(nil)
	if worked, err := s.Process(); worked || err != nil {
		t.Errorf("empty inbox: got (%v, %v), want no-work", worked, err)
	}
}

func TestSourcePushMovesPayload(t *testing.T) {
	t.Parallel()

	s := NewSource(nil)
	d := newDrain()
	if !s.Base().ConnectOneToOne(d) {
		t.Fatal("connect failed")
	}

	if !s.Push([]byte{1, 2, 3}) {
		t.Fatal("Push failed")
	}
	worked, err := s.Process()
	if !worked || err != nil {
		t.Fatalf("Process: got (%v, %v)", worked, err)
	}
	if got := d.pull(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("payload: got %v", got)
	}
}

func TestSourceFansOutToAllWriters(t *testing.T) {
	t.Parallel()

	s := NewSource(nil)
	d1, d2 := newDrain(), newDrain()
	if !s.Base().ConnectManyToOne(d1, 1, false) {
		t.Fatal("connect d1 failed")
	}
	if !s.Base().ConnectManyToOne(d2, 2, false) {
		t.Fatal("connect d2 failed")
	}

	s.Push([]byte{9})
	s.Process()

	for i, d := range []*drain{d1, d2} {
		if got := d.pull(); !bytes.Equal(got, []byte{9}) {
			t.Errorf("drain %d: got %v, want [9]", i+1, got)
		}
	}
}

func TestSourcePushCopiesBuffer(t *testing.T) {
	t.Parallel()

	s := NewSource(nil)
	d := newDrain()
	s.Base().ConnectOneToOne(d)

	buf := []byte{5, 5}
	s.Push(buf)
	buf[0] = 0 // caller reuses its buffer
	s.Process()

	if got := d.pull(); !bytes.Equal(got, []byte{5, 5}) {
		t.Errorf("payload aliased the caller buffer: got %v", got)
	}
}

func TestSourceInboxOverflowDropsNewest(t *testing.T) {
	t.Parallel()

	s := NewSource(nil)
	for i := 0; i < inboxDepth; i++ {
		if !s.Push([]byte{byte(i)}) {
			t.Fatalf("Push %d failed below inbox depth", i)
		}
	}
	if s.Push([]byte{0xFF}) {
		t.Error("Push beyond inbox depth should drop and report false")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	s := r.Register("cam-1")
	if s == nil {
		t.Fatal("Register returned nil")
	}
	if dup := r.Register("cam-1"); dup != nil {
		t.Error("duplicate key should be rejected")
	}

	s.RecordRead(100)
	s.RecordRead(50)
	s.SetRemoteAddr("10.0.0.7:4242")

	stats := r.Stats()
	if len(stats) != 1 {
		t.Fatalf("stats: got %d sessions", len(stats))
	}
	if stats[0].BytesReceived != 150 || stats[0].ReadCount != 2 {
		t.Errorf("counters: got %+v", stats[0])
	}
	if stats[0].RemoteAddr != "10.0.0.7:4242" {
		t.Errorf("remote addr: got %q", stats[0].RemoteAddr)
	}

	r.Unregister("cam-1")
	if len(r.Stats()) != 0 {
		t.Error("session should be gone after Unregister")
	}
	r.Unregister("cam-1") // no-op
}
