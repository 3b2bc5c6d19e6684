package filter

import "log/slog"

// New constructs a filter of the given type, or nil for types that cannot
// be instantiated through the factory (source, sink, unknown). The two
// endpoint filters are created once, by the pipeline manager, at startup.
func New(t Type, log *slog.Logger) Filter {
	switch t {
	case TypeVideoDecoder:
		return NewVideoDecoder(log)
	case TypeVideoEncoder:
		return NewVideoEncoder(log)
	case TypeVideoMixer:
		return NewVideoMixer(log)
	case TypeVideoResampler:
		return NewVideoResampler(log)
	case TypeAudioDecoder:
		return NewAudioDecoder(log)
	case TypeAudioEncoder:
		return NewAudioEncoder(log)
	case TypeAudioMixer:
		return NewAudioMixer(log)
	}
	return nil
}
