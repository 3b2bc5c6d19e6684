package filter

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/zsiec/weave/internal/media"
)

// stub is a minimal filter used as a neighbor in wiring tests: it never
// processes, it just lends its ports.
type stub struct {
	base Base
}

func newStub() *stub {
	s := &stub{}
	s.base = NewBase(media.AudioAlloc(64, 48000, 2, media.SampleFmtS16), 0, nil)
	return s
}

func (s *stub) Base() *Base            { return &s.base }
func (s *stub) Type() Type             { return TypeNone }
func (s *stub) Process() (bool, error) { return false, nil }
func (s *stub) State() State           { return s.base.baseState(TypeNone) }

// push commits one frame with the given little-endian sequence payload
// through the stub's writer port.
func (s *stub) push(t *testing.T, writerID int, seq uint32) bool {
	t.Helper()
	w := s.base.Writer(writerID)
	if w == nil {
		t.Fatalf("stub has no writer %d", writerID)
	}
	f := w.Rear()
	if f == nil {
		return false
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	f.Raw().SetPayload(b[:])
	f.Raw().PTS = time.Now()
	w.Commit()
	return true
}

// pull consumes one frame from the stub's reader port.
func (s *stub) pull(t *testing.T, readerID int) (media.Frame, bool) {
	t.Helper()
	r := s.base.Reader(readerID)
	if r == nil {
		t.Fatalf("stub has no reader %d", readerID)
	}
	f := r.Front()
	if f == nil {
		return nil, false
	}
	r.Release()
	return f, true
}

func TestGenerateIDsSkipUsedPorts(t *testing.T) {
	t.Parallel()

	a, b := newStub(), newStub()
	if !a.base.ConnectOneToOne(b) {
		t.Fatal("ConnectOneToOne failed")
	}

	w1 := a.base.GenerateWriterID()
	w2 := a.base.GenerateWriterID()
	if w1 == DefaultID || w2 == DefaultID || w1 == w2 {
		t.Errorf("generated writer IDs collide: %d, %d", w1, w2)
	}
	r1 := b.base.GenerateReaderID()
	if r1 == DefaultID {
		t.Errorf("generated reader ID collides with default: %d", r1)
	}
}

func TestConnectOneToOneMovesFrames(t *testing.T) {
	t.Parallel()

	a, b := newStub(), newStub()
	if !a.base.ConnectOneToOne(b) {
		t.Fatal("ConnectOneToOne failed")
	}
	if a.base.WriterCount() != 1 || b.base.ReaderCount() != 1 {
		t.Fatalf("ports: %d writers, %d readers", a.base.WriterCount(), b.base.ReaderCount())
	}

	if !a.push(t, DefaultID, 7) {
		t.Fatal("push failed on fresh edge")
	}
	f, ok := b.pull(t, DefaultID)
	if !ok {
		t.Fatal("frame did not arrive")
	}
	if got := binary.LittleEndian.Uint32(f.Raw().Payload()); got != 7 {
		t.Errorf("payload: got %d, want 7", got)
	}
}

func TestConnectRejectsBusyPorts(t *testing.T) {
	t.Parallel()

	a, b, c := newStub(), newStub(), newStub()
	if !a.base.ConnectOneToOne(b) {
		t.Fatal("first connect failed")
	}
	if a.base.ConnectOneToOne(c) {
		t.Error("reusing an exclusive writer port should fail")
	}
	if c.base.ConnectOneToOne(b) {
		t.Error("reusing a bound reader port should fail")
	}
}

func TestSharedEdgeFansOut(t *testing.T) {
	t.Parallel()

	src, d1, d2 := newStub(), newStub(), newStub()
	if !src.base.ConnectManyToOne(d1, 3, true) {
		t.Fatal("first shared connect failed")
	}
	if !src.base.ConnectManyToOne(d2, 3, true) {
		t.Fatal("second shared connect failed")
	}

	if !src.push(t, 3, 42) {
		t.Fatal("push failed")
	}
	f1, ok1 := d1.pull(t, DefaultID)
	f2, ok2 := d2.pull(t, DefaultID)
	if !ok1 || !ok2 {
		t.Fatal("both shared readers should see the frame")
	}
	if binary.LittleEndian.Uint32(f1.Raw().Payload()) != 42 ||
		binary.LittleEndian.Uint32(f2.Raw().Payload()) != 42 {
		t.Error("shared readers observed different payloads")
	}
}

func TestSharedEdgeRejectsThirdReader(t *testing.T) {
	t.Parallel()

	src, d1, d2, d3 := newStub(), newStub(), newStub(), newStub()
	src.base.ConnectManyToOne(d1, 1, true)
	src.base.ConnectManyToOne(d2, 1, true)
	if src.base.ConnectManyToOne(d3, 1, true) {
		t.Error("third reader on a shared edge should fail")
	}
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	a, b := newStub(), newStub()
	a.base.ConnectOneToOne(b)
	if !a.base.Disconnect(b, DefaultID, DefaultID) {
		t.Fatal("Disconnect failed")
	}
	if a.base.WriterCount() != 0 || b.base.ReaderCount() != 0 {
		t.Error("ports should be released after disconnect")
	}
	if a.base.Disconnect(b, DefaultID, DefaultID) {
		t.Error("double disconnect should fail")
	}
}

func TestDisconnectSharedLegKeepsOther(t *testing.T) {
	t.Parallel()

	src, d1, d2 := newStub(), newStub(), newStub()
	src.base.ConnectManyToOne(d1, 2, true)
	src.base.ConnectManyToOne(d2, 2, true)

	if !src.base.Disconnect(d1, 2, DefaultID) {
		t.Fatal("disconnecting one shared leg failed")
	}
	if src.base.WriterCount() != 1 {
		t.Error("writer should remain while a reader is attached")
	}
	if !src.push(t, 2, 9) {
		t.Fatal("push after partial disconnect failed")
	}
	if _, ok := d2.pull(t, DefaultID); !ok {
		t.Error("surviving leg should still receive frames")
	}

	if !src.base.Disconnect(d2, 2, DefaultID) {
		t.Fatal("disconnecting the last leg failed")
	}
	if src.base.WriterCount() != 0 {
		t.Error("writer should be released with the last reader")
	}
}

func TestAudioDecoderProcess(t *testing.T) {
	t.Parallel()

	src, sink := newStub(), newStub()
	dec := NewAudioDecoder(nil)
	if !src.base.ConnectOneToOne(dec) {
		t.Fatal("src->dec connect failed")
	}
	if !dec.base.ConnectOneToOne(sink) {
		t.Fatal("dec->sink connect failed")
	}

	worked, err := dec.Process()
	if worked || err != nil {
		t.Fatalf("empty input: got (%v, %v), want no-work", worked, err)
	}

	src.push(t, DefaultID, 11)
	worked, err = dec.Process()
	if !worked || err != nil {
		t.Fatalf("Process: got (%v, %v)", worked, err)
	}
	f, ok := sink.pull(t, DefaultID)
	if !ok {
		t.Fatal("decoded frame did not reach sink")
	}
	if got := binary.LittleEndian.Uint32(f.Raw().Payload()); got != 11 {
		t.Errorf("payload: got %d, want 11", got)
	}
}

func TestProcessConsumesInputWhenOutputFull(t *testing.T) {
	t.Parallel()

	src := newStub()
	dec := NewAudioDecoder(nil)
	sink := newStub()
	src.base.ConnectOneToOne(dec)
	dec.base.ConnectOneToOne(sink)

	// Fill the decoder's output ring (capacity 8 holds 7 frames) without
	// consuming at the sink.
	for i := 0; i < 7; i++ {
		src.push(t, DefaultID, uint32(i))
		if worked, err := dec.Process(); !worked || err != nil {
			t.Fatalf("fill %d: got (%v, %v)", i, worked, err)
		}
	}

	src.push(t, DefaultID, 99)
	worked, err := dec.Process()
	if !worked || err != nil {
		t.Fatalf("full output: got (%v, %v), want worked", worked, err)
	}
	// The input must be consumed even though the output was dropped.
	if worked, _ := dec.Process(); worked {
		t.Error("input should have been consumed on the dropped iteration")
	}
}

func TestAudioMixerSumsAndClips(t *testing.T) {
	t.Parallel()

	s1, s2, sink := newStub(), newStub(), newStub()
	mix := NewAudioMixer(nil)
	if !s1.base.ConnectOneToMany(mix, 1) {
		t.Fatal("s1->mix connect failed")
	}
	if !s2.base.ConnectOneToMany(mix, 2) {
		t.Fatal("s2->mix connect failed")
	}
	if !mix.base.ConnectOneToOne(sink) {
		t.Fatal("mix->sink connect failed")
	}

	sample := func(v int16) []byte {
		return []byte{byte(uint16(v)), byte(uint16(v) >> 8)}
	}
	pushPCM := func(s *stub, v int16) {
		w := s.base.Writer(DefaultID)
		f := w.Rear()
		if f == nil {
			t.Fatal("pushPCM: queue full")
		}
		f.Raw().SetPayload(append(sample(v), sample(v)...))
		w.Commit()
	}

	pushPCM(s1, 1000)
	pushPCM(s2, 250)
	if worked, err := mix.Process(); !worked || err != nil {
		t.Fatalf("mix: got (%v, %v)", worked, err)
	}
	f, ok := sink.pull(t, DefaultID)
	if !ok {
		t.Fatal("mixed frame missing")
	}
	p := f.Raw().Payload()
	if got := int16(uint16(p[0]) | uint16(p[1])<<8); got != 1250 {
		t.Errorf("mixed sample: got %d, want 1250", got)
	}

	// Saturation.
	pushPCM(s1, 30000)
	pushPCM(s2, 30000)
	mix.Process()
	f, ok = sink.pull(t, DefaultID)
	if !ok {
		t.Fatal("clipped frame missing")
	}
	p = f.Raw().Payload()
	if got := int16(uint16(p[0]) | uint16(p[1])<<8); got != 32767 {
		t.Errorf("clipped sample: got %d, want 32767", got)
	}
}

func TestMixerNoWorkWithoutInput(t *testing.T) {
	t.Parallel()

	mix := NewAudioMixer(nil)
	sink := newStub()
	mix.base.ConnectOneToOne(sink)
	if worked, err := mix.Process(); worked || err != nil {
		t.Errorf("got (%v, %v), want no-work", worked, err)
	}
}

func TestVideoResamplerScales(t *testing.T) {
	t.Parallel()

	res := NewVideoResampler(nil)
	if err := res.Configure(4, 4); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// Upstream produces 2x2 RGB24 pictures.
	src := &stub{}
	src.base = NewBase(media.VideoAlloc(0, 2, 2, media.PixelFmtRGB24), 0, nil)
	sink := newStub()
	if !src.base.ConnectOneToOne(res) {
		t.Fatal("src->res connect failed")
	}
	if !res.base.ConnectOneToOne(sink) {
		t.Fatal("res->sink connect failed")
	}

	w := src.base.Writer(DefaultID)
	f := w.Rear()
	// 2x2 picture: red, green / blue, white.
	f.Raw().SetPayload([]byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	})
	w.Commit()

	if worked, err := res.Process(); !worked || err != nil {
		t.Fatalf("Process: got (%v, %v)", worked, err)
	}
	out, ok := sink.pull(t, DefaultID)
	if !ok {
		t.Fatal("scaled frame missing")
	}
	p := out.Raw().Payload()
	if len(p) != 4*4*3 {
		t.Fatalf("scaled size: got %d, want %d", len(p), 4*4*3)
	}
	// Top-left quadrant stays red, bottom-right stays white.
	if p[0] != 255 || p[1] != 0 || p[2] != 0 {
		t.Errorf("top-left pixel: got %v", p[0:3])
	}
	last := (3*4 + 3) * 3
	if p[last] != 255 || p[last+1] != 255 || p[last+2] != 255 {
		t.Errorf("bottom-right pixel: got %v", p[last:last+3])
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want Type
	}{
		{"videoDecoder", TypeVideoDecoder},
		{"videoEncoder", TypeVideoEncoder},
		{"videoMixer", TypeVideoMixer},
		{"videoResampler", TypeVideoResampler},
		{"audioDecoder", TypeAudioDecoder},
		{"audioEncoder", TypeAudioEncoder},
		{"audioMixer", TypeAudioMixer},
	}
	for _, tc := range cases {
		typ, ok := TypeFromString(tc.name)
		if !ok || typ != tc.want {
			t.Errorf("TypeFromString(%q): got (%v, %v)", tc.name, typ, ok)
			continue
		}
		f := New(typ, nil)
		if f == nil {
			t.Errorf("New(%v) returned nil", typ)
			continue
		}
		if f.Type() != tc.want {
			t.Errorf("New(%v).Type(): got %v", typ, f.Type())
		}
	}

	if _, ok := TypeFromString("source"); ok {
		t.Error("source must not be instantiable via the control plane")
	}
	if f := New(TypeSource, nil); f != nil {
		t.Error("New(TypeSource) should return nil")
	}
	if f := New(TypeNone, nil); f != nil {
		t.Error("New(TypeNone) should return nil")
	}
}
