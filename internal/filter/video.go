package filter

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/metrics"
	"github.com/zsiec/weave/internal/queue"
)

// Default working shape for video stages: RGB24 frames sized for SD so the
// pre-allocated rings stay modest. Resamplers rescale to their configured
// target.
const (
	defaultWidth  = 640
	defaultHeight = 480
	codedVideoCap = 512 * 1024
)

// VideoDecoder turns coded video into raw RGB24 pictures. As with the
// audio decoder, the codec binding is a collaborator concern; the stage
// moves payloads and timing through the decode seam.
type VideoDecoder struct {
	base   Base
	width  int
	height int
}

// NewVideoDecoder creates a decoder emitting RGB24 at the default shape.
func NewVideoDecoder(log *slog.Logger) *VideoDecoder {
	d := &VideoDecoder{width: defaultWidth, height: defaultHeight}
	d.base = NewBase(
		media.VideoAlloc(0, d.width, d.height, media.PixelFmtRGB24),
		0, log,
	)
	return d
}

func (d *VideoDecoder) Base() *Base { return &d.base }
func (d *VideoDecoder) Type() Type  { return TypeVideoDecoder }

func (d *VideoDecoder) Process() (bool, error) {
	return d.base.processOneToOne(func(in, out media.Frame) error {
		if !out.Raw().CopyFrom(in.Raw()) {
			return fmt.Errorf("picture exceeds %d bytes", out.Raw().Capacity())
		}
		return nil
	})
}

func (d *VideoDecoder) State() State {
	s := d.base.baseState(TypeVideoDecoder)
	s.Width = d.width
	s.Height = d.height
	return s
}

// VideoEncoder turns raw pictures into coded video. Its codec is fixed at
// H.264 on construction; there is no call to change it.
type VideoEncoder struct {
	base  Base
	codec media.VideoCodec
}

// NewVideoEncoder creates an encoder targeting H.264.
func NewVideoEncoder(log *slog.Logger) *VideoEncoder {
	e := &VideoEncoder{codec: media.VideoCodecH264}
	e.base = NewBase(
		media.VideoAlloc(codedVideoCap, 0, 0, media.PixelFmtNone),
		0, log,
	)
	return e
}

func (e *VideoEncoder) Base() *Base { return &e.base }
func (e *VideoEncoder) Type() Type  { return TypeVideoEncoder }

func (e *VideoEncoder) Process() (bool, error) {
	return e.base.processOneToOne(func(in, out media.Frame) error {
		if !out.Raw().CopyFrom(in.Raw()) {
			return fmt.Errorf("coded picture exceeds %d bytes", out.Raw().Capacity())
		}
		return nil
	})
}

func (e *VideoEncoder) State() State {
	s := e.base.baseState(TypeVideoEncoder)
	s.Codec = e.codec.String()
	return s
}

// VideoResampler rescales RGB24 pictures to a configured target shape by
// nearest-neighbor sampling. Non-RGB24 or shapeless input passes through
// unscaled.
type VideoResampler struct {
	base   Base
	width  int
	height int
}

// NewVideoResampler creates a resampler targeting the default shape.
func NewVideoResampler(log *slog.Logger) *VideoResampler {
	r := &VideoResampler{width: defaultWidth, height: defaultHeight}
	r.base = NewBase(
		media.VideoAlloc(0, r.width, r.height, media.PixelFmtRGB24),
		0, log,
	)
	return r
}

// Configure sets the target picture shape. Only valid before the
// resampler's writer is wired.
func (r *VideoResampler) Configure(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("filter: invalid resample target %dx%d", width, height)
	}
	r.width = width
	r.height = height
	r.base.SetAlloc(media.VideoAlloc(0, width, height, media.PixelFmtRGB24))
	return nil
}

func (r *VideoResampler) Base() *Base { return &r.base }
func (r *VideoResampler) Type() Type  { return TypeVideoResampler }

func (r *VideoResampler) Process() (bool, error) {
	return r.base.processOneToOne(func(in, out media.Frame) error {
		src, ok := in.(*media.VideoFrame)
		if !ok || src.Format != media.PixelFmtRGB24 || src.Length != src.Width*src.Height*3 {
			if !out.Raw().CopyFrom(in.Raw()) {
				return fmt.Errorf("picture exceeds %d bytes", out.Raw().Capacity())
			}
			return nil
		}
		scaleRGB24(out.Raw(), src, r.width, r.height)
		out.Raw().PTS = src.PTS
		return nil
	})
}

func (r *VideoResampler) State() State {
	s := r.base.baseState(TypeVideoResampler)
	s.Width = r.width
	s.Height = r.height
	return s
}

// scaleRGB24 nearest-neighbor samples src into dst at dstW x dstH.
func scaleRGB24(dst *media.Buffer, src *media.VideoFrame, dstW, dstH int) {
	dst.Data = dst.Data[:dstW*dstH*3]
	sp := src.Payload()
	for y := 0; y < dstH; y++ {
		sy := y * src.Height / dstH
		for x := 0; x < dstW; x++ {
			sx := x * src.Width / dstW
			si := (sy*src.Width + sx) * 3
			di := (y*dstW + x) * 3
			copy(dst.Data[di:di+3], sp[si:si+3])
		}
	}
	dst.Length = len(dst.Data)
	dst.MarkUpdated()
}

// VideoMixer composites every pending input picture onto one output frame,
// top-left aligned, in input-port order. Later inputs paint over earlier
// ones where they overlap.
type VideoMixer struct {
	base   Base
	width  int
	height int
}

// NewVideoMixer creates a mixer emitting RGB24 at the default shape.
func NewVideoMixer(log *slog.Logger) *VideoMixer {
	m := &VideoMixer{width: defaultWidth, height: defaultHeight}
	m.base = NewBase(
		media.VideoAlloc(0, m.width, m.height, media.PixelFmtRGB24),
		0, log,
	)
	return m
}

func (m *VideoMixer) Base() *Base { return &m.base }
func (m *VideoMixer) Type() Type  { return TypeVideoMixer }

func (m *VideoMixer) Process() (bool, error) {
	w := m.base.Writer(DefaultID)
	if w == nil {
		return false, nil
	}

	ids := make([]int, 0, len(m.base.readers))
	for id := range m.base.readers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var pending []*queue.Reader
	var fronts []media.Frame
	for _, id := range ids {
		r := m.base.readers[id]
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

	canvas := out.Raw()
	canvas.Data = canvas.Data[:m.width*m.height*3]
	for _, f := range fronts {
		blitRGB24(canvas, f, m.width, m.height)
	}
	canvas.Length = len(canvas.Data)
	canvas.PTS = fronts[0].Raw().PTS
	canvas.MarkUpdated()

	for _, r := range pending {
		r.Release()
	}
	w.Commit()
	metrics.FramesProcessed.Inc()
	return true, nil
}

func (m *VideoMixer) State() State {
	s := m.base.baseState(TypeVideoMixer)
	s.Width = m.width
	s.Height = m.height
	return s
}

// blitRGB24 copies src onto the canvas, top-left aligned, clipped to the
// canvas shape. Sources without an RGB24 shape are skipped.
func blitRGB24(canvas *media.Buffer, src media.Frame, canvasW, canvasH int) {
	vf, ok := src.(*media.VideoFrame)
	if !ok || vf.Format != media.PixelFmtRGB24 || vf.Length != vf.Width*vf.Height*3 {
		return
	}
	w := vf.Width
	if w > canvasW {
		w = canvasW
	}
	h := vf.Height
	if h > canvasH {
		h = canvasH
	}
	sp := vf.Payload()
	for y := 0; y < h; y++ {
		copy(canvas.Data[y*canvasW*3:y*canvasW*3+w*3], sp[y*vf.Width*3:y*vf.Width*3+w*3])
	}
}
