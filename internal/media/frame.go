// Package media defines the frame types that flow between filters in the
// weave pipeline, along with the codec and sample/pixel format vocabulary
// shared by the control plane and the concrete filter implementations.
package media

import "time"

// Buffer is the raw payload and timing state shared by both frame kinds.
// Data is allocated once, when the queue hosting the frame is created, and
// reused for the lifetime of the ring slot. Length tracks the valid prefix.
//
// PTS is the wall-clock instant the payload should be rendered, set by the
// source and propagated verbatim unless a stage restamps it. Updated is the
// monotonic instant of the last completed transformation; scheduling and
// staleness checks read Updated, never PTS.
type Buffer struct {
	Data    []byte
	Length  int
	PTS     time.Time
	Updated time.Time
}

// Payload returns the valid prefix of the buffer.
func (b *Buffer) Payload() []byte {
	return b.Data[:b.Length]
}

// Capacity returns the fixed allocation size of the buffer.
func (b *Buffer) Capacity() int {
	return cap(b.Data)
}

// SetPayload copies p into the buffer and stamps the update time. It
// returns false, leaving the buffer untouched, when p exceeds capacity.
func (b *Buffer) SetPayload(p []byte) bool {
	if len(p) > cap(b.Data) {
		return false
	}
	b.Data = b.Data[:len(p)]
	copy(b.Data, p)
	b.Length = len(p)
	b.MarkUpdated()
	return true
}

// CopyFrom copies src's payload and presentation time into the buffer and
// stamps the update time. Returns false when src exceeds capacity.
func (b *Buffer) CopyFrom(src *Buffer) bool {
	if !b.SetPayload(src.Payload()) {
		return false
	}
	b.PTS = src.PTS
	return true
}

// MarkUpdated stamps the buffer with the current monotonic time. Stages
// call it when they finalize a transformation in place.
func (b *Buffer) MarkUpdated() {
	b.Updated = time.Now()
}

// Frame is the unit of exchange between filters. The two implementations,
// AudioFrame and VideoFrame, add immutable shape attributes; reshaping a
// stream means producing frames of a new shape, never mutating old ones.
type Frame interface {
	Raw() *Buffer
}

// Alloc constructs one frame of a fixed shape. Writers hand an Alloc to the
// queue they create so every ring slot matches the writer's output shape.
type Alloc func() Frame

// AudioFrame carries interleaved or planar audio samples.
type AudioFrame struct {
	Buffer
	SampleRate int
	Channels   int
	Format     SampleFormat
}

// NewAudioFrame allocates an audio frame with a payload capacity of
// capacity bytes and the given immutable shape.
func NewAudioFrame(capacity, sampleRate, channels int, format SampleFormat) *AudioFrame {
	f := &AudioFrame{
		SampleRate: sampleRate,
		Channels:   channels,
		Format:     format,
	}
	f.Data = make([]byte, 0, capacity)
	f.MarkUpdated()
	return f
}

// Raw returns the underlying buffer.
func (f *AudioFrame) Raw() *Buffer { return &f.Buffer }

// AudioAlloc returns an Alloc producing audio frames of one shape.
func AudioAlloc(capacity, sampleRate, channels int, format SampleFormat) Alloc {
	return func() Frame {
		return NewAudioFrame(capacity, sampleRate, channels, format)
	}
}

// VideoFrame carries one picture.
type VideoFrame struct {
	Buffer
	Width  int
	Height int
	Format PixelFormat
}

// NewVideoFrame allocates a video frame sized for the given shape. The
// payload capacity is derived from the pixel format unless the format has
// no fixed bytes-per-pixel, in which case capacity is used.
func NewVideoFrame(capacity, width, height int, format PixelFormat) *VideoFrame {
	if bpp := format.BytesPerPixel(); bpp > 0 {
		capacity = width * height * bpp
	}
	f := &VideoFrame{
		Width:  width,
		Height: height,
		Format: format,
	}
	f.Data = make([]byte, 0, capacity)
	f.MarkUpdated()
	return f
}

// Raw returns the underlying buffer.
func (f *VideoFrame) Raw() *Buffer { return &f.Buffer }

// VideoAlloc returns an Alloc producing video frames of one shape.
func VideoAlloc(capacity, width, height int, format PixelFormat) Alloc {
	return func() Frame {
		return NewVideoFrame(capacity, width, height, format)
	}
}
