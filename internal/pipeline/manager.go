// Package pipeline holds the topology and lifecycle of the dataflow graph:
// the keyed filter, path, and worker tables, the wiring of paths into
// frame queues, and the stop-mutate-restart discipline that keeps control
// operations from racing worker execution.
package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/metrics"
	"github.com/zsiec/weave/internal/worker"
)

// Reserved IDs for the two endpoint filters and their implicit workers.
// Control-plane clients address the receiver and transmitter by these.
const (
	ReceiverID    = 1
	TransmitterID = 2
)

// genIDBase is where internally generated filter and path IDs start,
// far above anything a control client plausibly assigns by hand.
const genIDBase = 1 << 20

// Manager owns the three keyed tables and every mutation of the graph.
// All exported operations serialize on one mutex, so the control plane
// behaves as a single control thread regardless of transport concurrency.
type Manager struct {
	log *slog.Logger

	mu      sync.Mutex
	filters map[int]filter.Filter
	paths   map[int]*Path
	workers map[int]worker.Worker

	receiverID    int
	transmitterID int
	nextGenID     int
}

// NewManager creates a manager with the two endpoint filters registered
// under the reserved IDs, each pinned to its own implicitly created
// best-effort worker. The endpoints live for the life of the manager; only
// intermediate filters come and go with paths.
func NewManager(receiver, transmitter filter.Filter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:           log.With("component", "pipeline-manager"),
		filters:       make(map[int]filter.Filter),
		paths:         make(map[int]*Path),
		workers:       make(map[int]worker.Worker),
		receiverID:    ReceiverID,
		transmitterID: TransmitterID,
	}

	m.filters[m.receiverID] = receiver
	m.filters[m.transmitterID] = transmitter

	for _, ep := range []struct {
		id int
		f  filter.Filter
	}{
		{m.receiverID, receiver},
		{m.transmitterID, transmitter},
	} {
		w := worker.NewBestEffortMaster(log)
		w.AddProcessor(ep.id, ep.f)
		ep.f.Base().SetWorkerID(ep.id)
		m.workers[ep.id] = w
	}

	return m
}

// ReceiverID returns the reserved ID of the source endpoint.
func (m *Manager) ReceiverID() int { return m.receiverID }

// TransmitterID returns the reserved ID of the sink endpoint.
func (m *Manager) TransmitterID() int { return m.transmitterID }

// Receiver returns the source endpoint filter.
func (m *Manager) Receiver() filter.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters[m.receiverID]
}

// Transmitter returns the sink endpoint filter.
func (m *Manager) Transmitter() filter.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filters[m.transmitterID]
}

// CreateFilter instantiates a filter by type tag, or nil for a type the
// factory does not know.
func (m *Manager) CreateFilter(t filter.Type) filter.Filter {
	return filter.New(t, m.log)
}

// AddFilter registers a filter under id.
func (m *Manager) AddFilter(id int, f filter.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.filters[id]; ok {
		return ErrFilterExists
	}
	m.filters[id] = f
	m.log.Debug("filter registered", "id", id, "type", f.Type().String())
	return nil
}

// Filter returns the filter registered under id.
func (m *Manager) Filter(id int) (filter.Filter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.filters[id]
	return f, ok
}

// FilterIDByType returns the ID of some filter of the given type, or -1.
func (m *Manager) FilterIDByType(t filter.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.filters {
		if f.Type() == t {
			return id
		}
	}
	return -1
}

// AddWorker registers a worker under id.
func (m *Manager) AddWorker(id int, w worker.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[id]; ok {
		return ErrWorkerExists
	}
	m.workers[id] = w
	m.log.Debug("worker registered", "id", id, "type", w.Type().String())
	return nil
}

// Worker returns the worker registered under id.
func (m *Manager) Worker(id int) (worker.Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	return w, ok
}

// AddFilterToWorker binds a registered filter to a registered worker's
// processor set. The worker is stopped around the mutation and restarted
// if it was running.
func (m *Manager) AddFilterToWorker(workerID, filterID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addFilterToWorkerLocked(workerID, filterID)
}

func (m *Manager) addFilterToWorkerLocked(workerID, filterID int) error {
	f, ok := m.filters[filterID]
	if !ok {
		return ErrUnknownFilter
	}
	w, ok := m.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	if f.Base().WorkerID() != filter.UnassignedWorker {
		return ErrFilterAssigned
	}

	wasRunning := w.Running()
	if wasRunning {
		w.Stop()
	}
	ok = w.AddProcessor(filterID, f)
	if ok {
		f.Base().SetWorkerID(workerID)
	}
	if wasRunning {
		if err := w.Start(); err != nil {
			return fmt.Errorf("restarting worker %d: %w", workerID, err)
		}
	}
	if !ok {
		return ErrFilterExists
	}
	return nil
}

// AddSlaves binds the given slave workers to a master worker.
func (m *Manager) AddSlaves(masterID int, slaveIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mw, ok := m.workers[masterID]
	if !ok {
		return ErrUnknownWorker
	}
	master, ok := mw.(worker.Master)
	if !ok {
		return ErrNotMaster
	}

	for _, id := range slaveIDs {
		sw, ok := m.workers[id]
		if !ok {
			return fmt.Errorf("%w: slave %d", ErrUnknownWorker, id)
		}
		slave, ok := sw.(worker.Slave)
		if !ok {
			return fmt.Errorf("%w: worker %d", ErrNotSlave, id)
		}
		if !master.AddSlave(id, slave) {
			return fmt.Errorf("%w: slave %d", ErrNotSlave, id)
		}
	}
	return nil
}

// CreatePath validates the referenced filter IDs and builds a path
// description. Negative port IDs are generated on the respective endpoint
// filters. Queues are not allocated until ConnectPath.
func (m *Manager) CreatePath(originID, destinationID, orgWriterID, dstReaderID int, mid []int, shared bool) (*Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPathLocked(originID, destinationID, orgWriterID, dstReaderID, mid, shared)
}

func (m *Manager) createPathLocked(originID, destinationID, orgWriterID, dstReaderID int, mid []int, shared bool) (*Path, error) {
	origin, ok := m.filters[originID]
	if !ok {
		return nil, fmt.Errorf("%w: origin %d", ErrUnknownFilter, originID)
	}
	destination, ok := m.filters[destinationID]
	if !ok {
		return nil, fmt.Errorf("%w: destination %d", ErrUnknownFilter, destinationID)
	}
	for _, id := range mid {
		if _, ok := m.filters[id]; !ok {
			return nil, fmt.Errorf("%w: intermediate %d", ErrUnknownFilter, id)
		}
	}

	if orgWriterID < 0 {
		orgWriterID = origin.Base().GenerateWriterID()
	}
	if dstReaderID < 0 {
		dstReaderID = destination.Base().GenerateReaderID()
	}
	return NewPath(originID, destinationID, orgWriterID, dstReaderID, mid, shared), nil
}

// ConnectPath allocates the queues along the path's chain. The workers of
// every touched filter are stopped for the wiring and restarted after. On
// failure every edge wired so far is torn down before the error returns.
func (m *Manager) ConnectPath(p *Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectPathLocked(p)
}

func (m *Manager) connectPathLocked(p *Path) error {
	chain, err := m.resolveChainLocked(p)
	if err != nil {
		return err
	}
	restart := m.stopTouchedLocked(p)
	defer restart()

	origin := chain[0]
	destination := chain[len(chain)-1]
	mids := chain[1 : len(chain)-1]

	if len(mids) == 0 {
		if !origin.Base().ConnectManyToMany(destination, p.dstReaderID, p.orgWriterID, p.shared) {
			return fmt.Errorf("%w: head to tail", ErrConnect)
		}
		return nil
	}

	type edge struct {
		from, to           filter.Filter
		writerID, readerID int
	}
	var wired []edge
	unwind := func() {
		for i := len(wired) - 1; i >= 0; i-- {
			e := wired[i]
			e.from.Base().Disconnect(e.to, e.writerID, e.readerID)
		}
	}

	if !origin.Base().ConnectManyToOne(mids[0], p.orgWriterID, p.shared) {
		return fmt.Errorf("%w: head to first filter", ErrConnect)
	}
	wired = append(wired, edge{origin, mids[0], p.orgWriterID, filter.DefaultID})

	for i := 0; i < len(mids)-1; i++ {
		if !mids[i].Base().ConnectOneToOne(mids[i+1]) {
			unwind()
			return fmt.Errorf("%w: between intermediate filters", ErrConnect)
		}
		wired = append(wired, edge{mids[i], mids[i+1], filter.DefaultID, filter.DefaultID})
	}

	if !mids[len(mids)-1].Base().ConnectOneToMany(destination, p.dstReaderID) {
		unwind()
		return fmt.Errorf("%w: last filter to tail", ErrConnect)
	}
	return nil
}

// AddPath registers a connected path under id.
func (m *Manager) AddPath(id int, p *Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addPathLocked(id, p)
}

func (m *Manager) addPathLocked(id int, p *Path) error {
	if _, ok := m.paths[id]; ok {
		return ErrPathExists
	}
	m.paths[id] = p
	metrics.ActivePaths.Inc()
	m.log.Debug("path registered", "id", id,
		"origin", p.originID, "destination", p.destinationID, "filters", p.mid)
	return nil
}

// Path returns the path registered under id.
func (m *Manager) Path(id int) (*Path, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.paths[id]
	return p, ok
}

// RemovePath disconnects the path's queues, removes its intermediate
// filters from their workers and from the filter table, and deletes the
// path. The endpoint filters always survive.
func (m *Manager) RemovePath(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removePathLocked(id)
}

func (m *Manager) removePathLocked(id int) error {
	p, ok := m.paths[id]
	if !ok {
		return ErrUnknownPath
	}
	chain, err := m.resolveChainLocked(p)
	if err != nil {
		return err
	}
	restart := m.stopTouchedLocked(p)
	defer restart()

	origin := chain[0]
	destination := chain[len(chain)-1]
	mids := chain[1 : len(chain)-1]

	if len(mids) == 0 {
		if !origin.Base().Disconnect(destination, p.orgWriterID, p.dstReaderID) {
			return fmt.Errorf("%w: head from tail", ErrDisconnect)
		}
	} else {
		if !origin.Base().Disconnect(mids[0], p.orgWriterID, filter.DefaultID) {
			return fmt.Errorf("%w: head from first filter", ErrDisconnect)
		}
		for i := 0; i < len(mids)-1; i++ {
			if !mids[i].Base().Disconnect(mids[i+1], filter.DefaultID, filter.DefaultID) {
				return fmt.Errorf("%w: between intermediate filters", ErrDisconnect)
			}
		}
		if !mids[len(mids)-1].Base().Disconnect(destination, filter.DefaultID, p.dstReaderID) {
			return fmt.Errorf("%w: last filter from tail", ErrDisconnect)
		}
	}

	for _, fid := range p.mid {
		f := m.filters[fid]
		if wid := f.Base().WorkerID(); wid != filter.UnassignedWorker {
			if w, ok := m.workers[wid]; ok {
				w.RemoveProcessor(fid)
			}
		}
		delete(m.filters, fid)
	}
	delete(m.paths, id)
	metrics.ActivePaths.Dec()
	m.log.Debug("path removed", "id", id, "filters", p.mid)
	return nil
}

// resolveChainLocked returns origin, intermediates, destination as live
// filters, erroring on any missing ID.
func (m *Manager) resolveChainLocked(p *Path) ([]filter.Filter, error) {
	chain := make([]filter.Filter, 0, len(p.mid)+2)
	ids := append([]int{p.originID}, p.mid...)
	ids = append(ids, p.destinationID)
	for _, id := range ids {
		f, ok := m.filters[id]
		if !ok {
			return nil, fmt.Errorf("%w: filter %d", ErrUnknownFilter, id)
		}
		chain = append(chain, f)
	}
	return chain, nil
}

// stopTouchedLocked stops every running worker owning a filter on the
// path and returns a closure restarting exactly those workers.
func (m *Manager) stopTouchedLocked(p *Path) func() {
	touched := make(map[int]worker.Worker)
	ids := append([]int{p.originID}, p.mid...)
	ids = append(ids, p.destinationID)
	for _, fid := range ids {
		f, ok := m.filters[fid]
		if !ok {
			continue
		}
		wid := f.Base().WorkerID()
		if wid == filter.UnassignedWorker {
			continue
		}
		if w, ok := m.workers[wid]; ok && w.Running() {
			touched[wid] = w
		}
	}
	for _, w := range touched {
		w.Stop()
	}
	return func() {
		for id, w := range touched {
			if err := w.Start(); err != nil {
				m.log.Error("worker restart failed", "worker", id, "error", err)
			}
		}
	}
}

// StartWorkers starts every stopped worker. The first start failure is
// fatal to the operation but already-started workers stay up.
func (m *Manager) StartWorkers() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startWorkersLocked()
}

func (m *Manager) startWorkersLocked() error {
	for _, id := range sortedKeys(m.workers) {
		w := m.workers[id]
		if w.Running() {
			continue
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting worker %d: %w", id, err)
		}
		m.log.Debug("worker started", "id", id)
	}
	return nil
}

// StopWorkers stops every running worker.
func (m *Manager) StopWorkers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.workers) {
		w := m.workers[id]
		if w.Running() {
			w.Stop()
			m.log.Debug("worker stopped", "id", id)
		}
	}
}

// ReconfigAudioEncoder replaces the encoder sub-path headed by encoderID
// with a freshly configured encoder wired from the same origin to the
// transmitter, registered under a generated path ID. This is the only
// supported mutation for stages that cannot be reconfigured atomically.
// Returns the new encoder filter ID and path ID.
func (m *Manager) ReconfigAudioEncoder(encoderID int, codec media.AudioCodec, sampleRate, channels int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pathID := 0
	var target *Path
	for id, p := range m.paths {
		if len(p.mid) > 0 && p.mid[0] == encoderID {
			pathID, target = id, p
			break
		}
	}
	if target == nil {
		return 0, 0, ErrNoEncoderPath
	}
	old, ok := m.filters[encoderID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: encoder %d", ErrUnknownFilter, encoderID)
	}
	if _, ok := old.(*filter.AudioEncoder); !ok {
		return 0, 0, ErrNotAudioEncoder
	}
	workerID := old.Base().WorkerID()
	originID := target.originID

	enc := filter.NewAudioEncoder(m.log)
	if err := enc.Configure(codec, channels, sampleRate); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}

	if err := m.removePathLocked(pathID); err != nil {
		return 0, 0, err
	}

	newEncID := m.freshIDLocked(func(id int) bool { _, used := m.filters[id]; return used })
	m.filters[newEncID] = enc
	if workerID != filter.UnassignedWorker {
		if w, ok := m.workers[workerID]; ok {
			wasRunning := w.Running()
			if wasRunning {
				w.Stop()
			}
			if w.AddProcessor(newEncID, enc) {
				enc.Base().SetWorkerID(workerID)
			}
			if wasRunning {
				if err := w.Start(); err != nil {
					m.log.Error("worker restart failed", "worker", workerID, "error", err)
				}
			}
		}
	}

	p, err := m.createPathLocked(originID, m.transmitterID, -1, -1, []int{newEncID}, false)
	if err != nil {
		delete(m.filters, newEncID)
		return 0, 0, err
	}
	if err := m.connectPathLocked(p); err != nil {
		delete(m.filters, newEncID)
		return 0, 0, err
	}
	newPathID := m.freshIDLocked(func(id int) bool { _, used := m.paths[id]; return used })
	if err := m.addPathLocked(newPathID, p); err != nil {
		return 0, 0, err
	}

	m.log.Info("audio encoder reconfigured",
		"oldEncoder", encoderID, "newEncoder", newEncID,
		"codec", codec.String(), "sampleRate", sampleRate, "channels", channels,
		"path", newPathID)
	return newEncID, newPathID, nil
}

// freshIDLocked generates an ID no control client is using, skipping any
// already present per the used predicate.
func (m *Manager) freshIDLocked(used func(int) bool) int {
	for {
		m.nextGenID++
		id := genIDBase + m.nextGenID
		if !used(id) {
			return id
		}
	}
}

func sortedKeys[V any](t map[int]V) []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
