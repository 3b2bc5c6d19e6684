package pipeline

import "errors"

// Sentinel errors for control operations. The control plane maps these to
// its wire-level error strings; callers classify with errors.Is.
var (
	ErrFilterExists    = errors.New("pipeline: filter ID already registered")
	ErrPathExists      = errors.New("pipeline: path ID already registered")
	ErrWorkerExists    = errors.New("pipeline: worker ID already registered")
	ErrUnknownFilter   = errors.New("pipeline: unknown filter ID")
	ErrUnknownPath     = errors.New("pipeline: unknown path ID")
	ErrUnknownWorker   = errors.New("pipeline: unknown worker ID")
	ErrUnknownType     = errors.New("pipeline: unknown type")
	ErrFilterAssigned  = errors.New("pipeline: filter already assigned to a worker")
	ErrNotMaster       = errors.New("pipeline: worker is not a master")
	ErrNotSlave        = errors.New("pipeline: worker is not a slave")
	ErrConnect         = errors.New("pipeline: path connection failed")
	ErrDisconnect      = errors.New("pipeline: path disconnection failed")
	ErrNoEncoderPath   = errors.New("pipeline: no path headed by that encoder")
	ErrNotAudioEncoder = errors.New("pipeline: filter is not an audio encoder")
)
