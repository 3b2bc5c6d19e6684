package filter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/metrics"
	"github.com/zsiec/weave/internal/queue"
)

// Default working shape for audio stages. The software transforms operate
// on interleaved s16 at this shape unless configured otherwise.
const (
	defaultSampleRate = 48000
	defaultChannels   = 2
	audioFrameBytes   = 4096
)

var errUnknownCodec = errors.New("filter: unknown codec")

// AudioDecoder turns coded audio into interleaved PCM frames. The codec
// binding itself is a collaborator concern; this stage moves payloads and
// timing through the decode seam so graphs run end to end without one.
type AudioDecoder struct {
	base       Base
	sampleRate int
	channels   int
}

// NewAudioDecoder creates a decoder emitting s16 PCM at the default shape.
func NewAudioDecoder(log *slog.Logger) *AudioDecoder {
	d := &AudioDecoder{
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}
	d.base = NewBase(
		media.AudioAlloc(audioFrameBytes, d.sampleRate, d.channels, media.SampleFmtS16),
		0, log,
	)
	return d
}

func (d *AudioDecoder) Base() *Base { return &d.base }
func (d *AudioDecoder) Type() Type  { return TypeAudioDecoder }

func (d *AudioDecoder) Process() (bool, error) {
	return d.base.processOneToOne(func(in, out media.Frame) error {
		if !out.Raw().CopyFrom(in.Raw()) {
			return fmt.Errorf("decoded frame exceeds %d bytes", out.Raw().Capacity())
		}
		return nil
	})
}

func (d *AudioDecoder) State() State {
	s := d.base.baseState(TypeAudioDecoder)
	s.SampleRate = d.sampleRate
	s.Channels = d.channels
	return s
}

// AudioEncoder turns PCM frames into coded audio of a configured codec.
// Configure must run before the encoder's writer is wired; the output
// queue takes its frame shape from the configuration in force at connect
// time.
type AudioEncoder struct {
	base       Base
	codec      media.AudioCodec
	sampleRate int
	channels   int
}

// NewAudioEncoder creates an encoder configured for AAC at the default
// shape.
func NewAudioEncoder(log *slog.Logger) *AudioEncoder {
	e := &AudioEncoder{}
	e.base = NewBase(nil, 0, log)
	if err := e.Configure(media.AudioCodecAAC, defaultChannels, defaultSampleRate); err != nil {
		panic(err) // static codec constant, cannot fail
	}
	return e
}

// Configure sets the target codec and output shape.
func (e *AudioEncoder) Configure(codec media.AudioCodec, channels, sampleRate int) error {
	if codec == media.AudioCodecNone {
		return errUnknownCodec
	}
	if channels <= 0 || sampleRate <= 0 {
		return fmt.Errorf("filter: invalid encoder shape %dch@%dHz", channels, sampleRate)
	}
	e.codec = codec
	e.channels = channels
	e.sampleRate = sampleRate
	e.base.SetAlloc(media.AudioAlloc(audioFrameBytes, sampleRate, channels, media.SampleFmtS16))
	return nil
}

// Codec returns the configured target codec.
func (e *AudioEncoder) Codec() media.AudioCodec { return e.codec }

func (e *AudioEncoder) Base() *Base { return &e.base }
func (e *AudioEncoder) Type() Type  { return TypeAudioEncoder }

func (e *AudioEncoder) Process() (bool, error) {
	return e.base.processOneToOne(func(in, out media.Frame) error {
		if !out.Raw().CopyFrom(in.Raw()) {
			return fmt.Errorf("coded frame exceeds %d bytes", out.Raw().Capacity())
		}
		return nil
	})
}

func (e *AudioEncoder) State() State {
	s := e.base.baseState(TypeAudioEncoder)
	s.Codec = e.codec.String()
	s.SampleRate = e.sampleRate
	s.Channels = e.channels
	return s
}

// AudioMixer sums s16 interleaved PCM from every input port that has a
// frame pending into a single output frame, with saturation. Inputs that
// are empty this iteration simply do not contribute; the mixer never waits
// for a laggard. The mix is written to the writer port with the lowest ID;
// any other writer ports receive nothing.
type AudioMixer struct {
	base       Base
	sampleRate int
	channels   int
}

// NewAudioMixer creates a mixer emitting s16 PCM at the default shape.
func NewAudioMixer(log *slog.Logger) *AudioMixer {
	m := &AudioMixer{
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}
	m.base = NewBase(
		media.AudioAlloc(audioFrameBytes, m.sampleRate, m.channels, media.SampleFmtS16),
		0, log,
	)
	return m
}

func (m *AudioMixer) Base() *Base { return &m.base }
func (m *AudioMixer) Type() Type  { return TypeAudioMixer }

func (m *AudioMixer) Process() (bool, error) {
	// A mixer heading a path writes on a generated port, not DefaultID.
	var w *queue.Writer
	wid := 0
	for id, cand := range m.base.writers {
		if w == nil || id < wid {
			w, wid = cand, id
		}
	}
	if w == nil {
		return false, nil
	}

	var pending []*queue.Reader
	var fronts []media.Frame
	for _, r := range m.base.readers {
		if f := r.Front(); f != nil {
			pending = append(pending, r)
			fronts = append(fronts, f)
		}
	}
	if len(pending) == 0 {
		return false, nil
	}

	out := w.Rear()
	if out == nil {
		for _, r := range pending {
			r.Release()
		}
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		return true, nil
	}

	if err := mixS16(out.Raw(), fronts); err != nil {
		for _, r := range pending {
			r.Release()
		}
		metrics.FramesDropped.WithLabelValues("transform_error").Inc()
		return true, err
	}
	out.Raw().PTS = fronts[0].Raw().PTS

	for _, r := range pending {
		r.Release()
	}
	w.Commit()
	metrics.FramesProcessed.Inc()
	return true, nil
}

func (m *AudioMixer) State() State {
	s := m.base.baseState(TypeAudioMixer)
	s.SampleRate = m.sampleRate
	s.Channels = m.channels
	return s
}

// mixS16 sums the payloads of ins into dst as little-endian s16 samples,
// clipping at the int16 range. dst spans the longest input.
func mixS16(dst *media.Buffer, ins []media.Frame) error {
	maxLen := 0
	for _, in := range ins {
		if n := in.Raw().Length; n > maxLen {
			maxLen = n
		}
	}
	maxLen &^= 1
	if maxLen > cap(dst.Data) {
		return fmt.Errorf("mix of %d bytes exceeds %d-byte output", maxLen, cap(dst.Data))
	}

	dst.Data = dst.Data[:maxLen]
	for i := range dst.Data {
		dst.Data[i] = 0
	}
	for _, in := range ins {
		p := in.Raw().Payload()
		for i := 0; i+1 < len(p); i += 2 {
			acc := int32(int16(uint16(dst.Data[i]) | uint16(dst.Data[i+1])<<8))
			acc += int32(int16(uint16(p[i]) | uint16(p[i+1])<<8))
			if acc > 32767 {
				acc = 32767
			} else if acc < -32768 {
				acc = -32768
			}
			dst.Data[i] = byte(uint16(acc))
			dst.Data[i+1] = byte(uint16(acc) >> 8)
		}
	}
	dst.Length = maxLen
	dst.MarkUpdated()
	return nil
}
