// Package filter defines the processing-node abstraction of the weave
// pipeline: typed filters with reader and writer ports, wired to each other
// through bounded frame queues. Concrete media transforms embed Base, which
// carries the port maps and implements the wiring operations once.
package filter

// Type tags a filter with its role in the graph.
type Type int

// Filter types. Source and Sink are reserved for the two pipeline
// endpoints; the remaining types are instantiable through the control
// plane factory.
const (
	TypeNone Type = iota
	TypeSource
	TypeSink
	TypeVideoDecoder
	TypeVideoEncoder
	TypeVideoMixer
	TypeVideoResampler
	TypeAudioDecoder
	TypeAudioEncoder
	TypeAudioMixer
)

var typeNames = map[Type]string{
	TypeSource:         "source",
	TypeSink:           "sink",
	TypeVideoDecoder:   "videoDecoder",
	TypeVideoEncoder:   "videoEncoder",
	TypeVideoMixer:     "videoMixer",
	TypeVideoResampler: "videoResampler",
	TypeAudioDecoder:   "audioDecoder",
	TypeAudioEncoder:   "audioEncoder",
	TypeAudioMixer:     "audioMixer",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "none"
}

// TypeFromString maps a control-plane type string to its Type. Source and
// sink are not reachable this way; the endpoints exist from construction.
func TypeFromString(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s && t != TypeSource && t != TypeSink {
			return t, true
		}
	}
	return TypeNone, false
}

// Filter is a processing node. Process executes one bounded unit of work:
// it may peek readers, consume input frames, and produce output frames, and
// it must return without spinning; a false first return is the no-work
// sentinel. Wiring operations live on the embedded *Base.
type Filter interface {
	Type() Type
	Process() (bool, error)
	State() State

	// Base exposes the port maps and wiring operations. Concrete filters
	// obtain it by embedding.
	Base() *Base
}

// State is a filter's contribution to the control plane topology report.
type State struct {
	Type       string `json:"type"`
	WorkerID   int    `json:"workerId"`
	Readers    int    `json:"readers"`
	Writers    int    `json:"writers"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}
