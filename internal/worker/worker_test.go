package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/media"
)

// countFilter records Process invocations and pretends it always has work.
type countFilter struct {
	base  filter.Base
	calls atomic.Int64
	idle  bool
}

func newCountFilter(idle bool) *countFilter {
	f := &countFilter{idle: idle}
	f.base = filter.NewBase(media.AudioAlloc(16, 48000, 2, media.SampleFmtS16), 0, nil)
	return f
}

func (f *countFilter) Base() *filter.Base { return &f.base }
func (f *countFilter) Type() filter.Type  { return filter.TypeNone }
func (f *countFilter) State() filter.State {
	return filter.State{Type: "test"}
}

func (f *countFilter) Process() (bool, error) {
	f.calls.Add(1)
	return !f.idle, nil
}

func TestTypeFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]Type{
		"bestEffortMaster":        TypeBestEffortMaster,
		"bestEffortSlave":         TypeBestEffortSlave,
		"constantFramerateMaster": TypeConstantFramerateMaster,
		"constantFramerateSlave":  TypeConstantFramerateSlave,
	}
	for s, want := range cases {
		got, ok := TypeFromString(s)
		if !ok || got != want {
			t.Errorf("TypeFromString(%q): got (%v, %v), want %v", s, got, ok, want)
		}
	}
	if _, ok := TypeFromString("roundRobin"); ok {
		t.Error("unknown type string should not resolve")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	w := NewBestEffortMaster(nil)
	if w.Running() {
		t.Fatal("fresh worker should not be running")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !w.Running() {
		t.Fatal("worker should be running")
	}
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Error("worker should be stopped")
	}
}

func TestAddRemoveProcessor(t *testing.T) {
	t.Parallel()

	w := NewBestEffortMaster(nil)
	f := newCountFilter(true)
	if !w.AddProcessor(3, f) {
		t.Fatal("AddProcessor failed")
	}
	if w.AddProcessor(3, f) {
		t.Error("duplicate processor ID should fail")
	}
	w.AddProcessor(1, newCountFilter(true))

	ids := w.Processors()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("Processors: got %v, want [1 3]", ids)
	}

	if !w.RemoveProcessor(3) {
		t.Error("RemoveProcessor failed")
	}
	if w.RemoveProcessor(3) {
		t.Error("removing an unknown processor should fail")
	}
}

func TestBestEffortMasterSweeps(t *testing.T) {
	t.Parallel()

	w := NewBestEffortMaster(nil)
	f := newCountFilter(true)
	w.AddProcessor(1, f)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	// Idle filters are revisited after the back-off, so 100 ms must yield
	// dozens of sweeps at least.
	if n := f.calls.Load(); n < 10 {
		t.Errorf("sweep count: got %d, want >= 10", n)
	}

	after := f.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if f.calls.Load() != after {
		t.Error("stopped worker kept processing filters")
	}
}

func TestSlaveAdvancesOnlyOnTick(t *testing.T) {
	t.Parallel()

	master := NewBestEffortMaster(nil)
	slave := NewBestEffortSlave(nil)
	f := newCountFilter(true)
	slave.AddProcessor(1, f)

	if err := slave.Start(); err != nil {
		t.Fatalf("slave Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("unticked slave processed %d times", n)
	}

	if !master.AddSlave(10, slave) {
		t.Fatal("AddSlave failed")
	}
	if err := master.Start(); err != nil {
		t.Fatalf("master Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	master.Stop()
	slave.Stop()

	if n := f.calls.Load(); n == 0 {
		t.Error("ticked slave never processed")
	}
}

func TestSlaveBelongsToOneMaster(t *testing.T) {
	t.Parallel()

	m1 := NewBestEffortMaster(nil)
	m2 := NewConstantFramerateMaster(30, nil)
	slave := NewConstantFramerateSlave(nil)

	if !m1.AddSlave(1, slave) {
		t.Fatal("first AddSlave failed")
	}
	if m2.AddSlave(1, slave) {
		t.Error("slave accepted a second master")
	}
	if m1.AddSlave(1, NewBestEffortSlave(nil)) {
		t.Error("duplicate slave ID accepted")
	}

	if !m1.RemoveSlave(1) {
		t.Fatal("RemoveSlave failed")
	}
	if !m2.AddSlave(1, slave) {
		t.Error("released slave should accept a new master")
	}
}

func TestConstantFramerateCadence(t *testing.T) {
	t.Parallel()

	const fps = 50
	w := NewConstantFramerateMaster(fps, nil)
	f := newCountFilter(false)
	w.AddProcessor(1, f)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1 * time.Second)
	w.Stop()

	// One sweep per period; allow generous scheduler slack around the
	// 50-per-second target.
	n := f.calls.Load()
	if n < 40 || n > 60 {
		t.Errorf("sweeps in 1s at %d fps: got %d, want about %d", fps, n, fps)
	}
}

func TestConstantFramerateSlavePhaseLock(t *testing.T) {
	t.Parallel()

	master := NewConstantFramerateMaster(50, nil)
	slave := NewConstantFramerateSlave(nil)
	mf := newCountFilter(false)
	sf := newCountFilter(false)
	master.AddProcessor(1, mf)
	slave.AddProcessor(2, sf)
	master.AddSlave(1, slave)

	if err := slave.Start(); err != nil {
		t.Fatalf("slave Start: %v", err)
	}
	if err := master.Start(); err != nil {
		t.Fatalf("master Start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	master.Stop()
	slave.Stop()

	m, s := mf.calls.Load(), sf.calls.Load()
	if s == 0 {
		t.Fatal("slave never swept")
	}
	// The slave coalesces ticks, so it can only lag, never lead.
	if s > m {
		t.Errorf("slave swept more than master: %d > %d", s, m)
	}
	if m-s > m/4 {
		t.Errorf("slave lags master too far: master %d, slave %d", m, s)
	}
}

func TestNewByType(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{
		TypeBestEffortMaster,
		TypeBestEffortSlave,
		TypeConstantFramerateMaster,
		TypeConstantFramerateSlave,
	} {
		w := New(typ, 30, nil)
		if w == nil {
			t.Errorf("New(%v) returned nil", typ)
			continue
		}
		if w.Type() != typ {
			t.Errorf("New(%v).Type(): got %v", typ, w.Type())
		}
	}
	if New(TypeNone, 0, nil) != nil {
		t.Error("New(TypeNone) should return nil")
	}

	cfm := NewConstantFramerateMaster(0, nil)
	if cfm.Period() != time.Second/defaultFPS {
		t.Errorf("default period: got %v", cfm.Period())
	}
}
