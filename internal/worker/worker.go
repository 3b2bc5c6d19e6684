// Package worker implements the execution vehicles of the pipeline. A
// worker owns one goroutine and steps a set of filters under one of four
// disciplines: best-effort or constant-framerate, each as a timing master
// or as a slave phase-locked to a master's tick.
package worker

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/metrics"
)

// Type tags a worker with its scheduling discipline.
type Type int

// Worker disciplines reachable through the control plane.
const (
	TypeNone Type = iota
	TypeBestEffortMaster
	TypeBestEffortSlave
	TypeConstantFramerateMaster
	TypeConstantFramerateSlave
)

var typeNames = map[Type]string{
	TypeBestEffortMaster:        "bestEffortMaster",
	TypeBestEffortSlave:         "bestEffortSlave",
	TypeConstantFramerateMaster: "constantFramerateMaster",
	TypeConstantFramerateSlave:  "constantFramerateSlave",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "none"
}

// TypeFromString maps a control-plane worker type string to its Type.
func TypeFromString(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return TypeNone, false
}

// Worker steps a set of filters on its own goroutine. Start and Stop are
// idempotent. Stop signals the loop, which checks the signal once per
// iteration, finishes its current sweep of bounded Process calls and exits;
// filter state is never touched on the way out.
type Worker interface {
	Type() Type
	Start() error
	Stop()
	Running() bool

	AddProcessor(id int, f filter.Filter) bool
	RemoveProcessor(id int) bool
	Processors() []int

	State() State
}

// Master is a worker that drives timing for a set of slaves, ticking them
// once per completed sweep.
type Master interface {
	Worker
	AddSlave(id int, s Slave) bool
	RemoveSlave(id int) bool
}

// Slave is a worker that advances only on its master's tick. A slave
// belongs to at most one master at a time.
type Slave interface {
	Worker
	bind() bool
	release()
	tick()
}

// State is a worker's contribution to the control plane topology report.
type State struct {
	Type    string `json:"type"`
	Running bool   `json:"running"`
	Filters []int  `json:"filters"`
}

// core holds the processor set and lifecycle shared by all disciplines.
// The loop snapshots the processor set per sweep, so control-side mutation
// (which the manager only performs on stopped workers anyway) can never
// race a half-iterated map.
type core struct {
	log *slog.Logger

	mu         sync.RWMutex
	processors map[int]filter.Filter
	running    bool
	stop       chan struct{}
	done       chan struct{}
}

func newCore(component string, log *slog.Logger) core {
	if log == nil {
		log = slog.Default()
	}
	return core{
		log:        log.With("component", component),
		processors: make(map[int]filter.Filter),
	}
}

// AddProcessor binds a filter under the given ID. Fails on a duplicate ID.
func (c *core) AddProcessor(id int, f filter.Filter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.processors[id]; ok {
		return false
	}
	c.processors[id] = f
	return true
}

// RemoveProcessor unbinds a filter. Fails when the ID is unknown.
func (c *core) RemoveProcessor(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.processors[id]; !ok {
		return false
	}
	delete(c.processors, id)
	return true
}

// Processors returns the bound filter IDs in ascending order.
func (c *core) Processors() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.processors))
	for id := range c.processors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Running reports whether the loop goroutine is active.
func (c *core) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// start launches loop on a fresh goroutine. No-op when already running.
func (c *core) start(loop func(stop chan struct{})) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true
	metrics.ActiveWorkers.Inc()

	stop, done := c.stop, c.done
	go func() {
		defer close(done)
		loop(stop)
	}()
	return nil
}

// Stop signals the loop and joins it. No-op when already stopped.
func (c *core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	metrics.ActiveWorkers.Dec()
}

// sweep runs one Process call per bound filter, in ascending ID order, and
// reports whether any filter made progress. Per-iteration failures are
// logged and counted, never fatal to the loop.
func (c *core) sweep() bool {
	c.mu.RLock()
	ids := make([]int, 0, len(c.processors))
	for id := range c.processors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fs := make([]filter.Filter, len(ids))
	for i, id := range ids {
		fs[i] = c.processors[id]
	}
	c.mu.RUnlock()

	any := false
	for i, f := range fs {
		worked, err := f.Process()
		if err != nil {
			c.log.Warn("filter process failed", "filter", ids[i], "error", err)
			metrics.ProcessErrors.Inc()
		}
		if worked {
			any = true
		}
	}
	metrics.WorkerIterations.Inc()
	return any
}

func (c *core) state(t Type) State {
	return State{
		Type:    t.String(),
		Running: c.Running(),
		Filters: c.Processors(),
	}
}

// slaveSet is the slave registry embedded by both master disciplines.
type slaveSet struct {
	mu     sync.Mutex
	slaves map[int]Slave
}

// AddSlave binds a slave under the given ID. Fails on a duplicate ID or
// when the slave already follows another master.
func (ss *slaveSet) AddSlave(id int, s Slave) bool {
	if s == nil {
		return false
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.slaves == nil {
		ss.slaves = make(map[int]Slave)
	}
	if _, ok := ss.slaves[id]; ok {
		return false
	}
	if !s.bind() {
		return false
	}
	ss.slaves[id] = s
	return true
}

// RemoveSlave releases a slave. Fails when the ID is unknown.
func (ss *slaveSet) RemoveSlave(id int) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.slaves[id]
	if !ok {
		return false
	}
	s.release()
	delete(ss.slaves, id)
	return true
}

// tickSlaves signals every bound slave that a sweep completed.
func (ss *slaveSet) tickSlaves() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, s := range ss.slaves {
		s.tick()
	}
}
