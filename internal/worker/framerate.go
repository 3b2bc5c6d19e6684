package worker

import (
	"log/slog"
	"time"

	"github.com/zsiec/weave/internal/metrics"
)

// defaultFPS is used when a constant-framerate worker is created without a
// positive rate.
const defaultFPS = 25

// ConstantFramerateMaster sweeps its filters once per frame period and
// sleeps out the remainder. Deadlines accumulate absolutely — a missed
// deadline is logged and counted, and the next sweep starts without a
// sleep. A loop more than a full period behind rebases its deadline to now
// instead of sweeping back-to-back, so the frames of a long stall are lost
// and the cadence resumes from that point.
type ConstantFramerateMaster struct {
	core
	slaveSet
	period time.Duration
}

// NewConstantFramerateMaster creates a stopped master targeting fps frames
// per second.
func NewConstantFramerateMaster(fps int, log *slog.Logger) *ConstantFramerateMaster {
	if fps <= 0 {
		fps = defaultFPS
	}
	return &ConstantFramerateMaster{
		core:   newCore("worker-cfr-master", log),
		period: time.Second / time.Duration(fps),
	}
}

// Period returns the target frame period.
func (w *ConstantFramerateMaster) Period() time.Duration { return w.period }

func (w *ConstantFramerateMaster) Type() Type   { return TypeConstantFramerateMaster }
func (w *ConstantFramerateMaster) State() State { return w.core.state(TypeConstantFramerateMaster) }

// Start launches the framerate-locked loop.
func (w *ConstantFramerateMaster) Start() error {
	return w.core.start(func(stop chan struct{}) {
		deadline := time.Now().Add(w.period)
		for {
			select {
			case <-stop:
				return
			default:
			}

			w.sweep()
			w.tickSlaves()

			now := time.Now()
			if now.Before(deadline) {
				select {
				case <-stop:
					return
				case <-time.After(deadline.Sub(now)):
				}
			} else {
				w.log.Warn("frame deadline missed",
					"overrun", now.Sub(deadline), "period", w.period)
				metrics.DeadlineMisses.Inc()
				if now.Sub(deadline) > w.period {
					// More than a full period behind: rebase instead of
					// sweeping back-to-back. The lost frames stay lost.
					deadline = now
				}
			}
			deadline = deadline.Add(w.period)
		}
	})
}

// ConstantFramerateSlave sweeps once per master tick, giving its filters a
// phase-locked execution point at the master's frame cadence.
type ConstantFramerateSlave struct {
	slaveCore
}

// NewConstantFramerateSlave creates a stopped constant-framerate slave.
func NewConstantFramerateSlave(log *slog.Logger) *ConstantFramerateSlave {
	return &ConstantFramerateSlave{slaveCore: newSlaveCore("worker-cfr-slave", log)}
}

func (w *ConstantFramerateSlave) Type() Type   { return TypeConstantFramerateSlave }
func (w *ConstantFramerateSlave) State() State { return w.core.state(TypeConstantFramerateSlave) }

// Start launches the tick-driven loop.
func (w *ConstantFramerateSlave) Start() error {
	return w.core.start(w.run)
}

// New constructs a worker of the given discipline. fps applies to the
// constant-framerate master and is ignored otherwise. Returns nil for an
// unknown type.
func New(t Type, fps int, log *slog.Logger) Worker {
	switch t {
	case TypeBestEffortMaster:
		return NewBestEffortMaster(log)
	case TypeBestEffortSlave:
		return NewBestEffortSlave(log)
	case TypeConstantFramerateMaster:
		return NewConstantFramerateMaster(fps, log)
	case TypeConstantFramerateSlave:
		return NewConstantFramerateSlave(log)
	}
	return nil
}
