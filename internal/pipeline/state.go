package pipeline

import (
	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/worker"
)

// FilterInfo is one filter's entry in a topology report. The filter state
// is embedded so its fields serialize inline beside the ID.
type FilterInfo struct {
	ID int `json:"id"`
	filter.State
}

// PathInfo is one path's entry in a topology report.
type PathInfo struct {
	ID                int   `json:"id"`
	OriginFilter      int   `json:"originFilter"`
	DestinationFilter int   `json:"destinationFilter"`
	OriginWriter      int   `json:"originWriter"`
	DestinationReader int   `json:"destinationReader"`
	Filters           []int `json:"filters"`
}

// WorkerInfo is one worker's entry in a topology report.
type WorkerInfo struct {
	ID int `json:"id"`
	worker.State
}

// Report is the full topology snapshot emitted by getState.
type Report struct {
	Filters []FilterInfo `json:"filters"`
	Paths   []PathInfo   `json:"paths"`
	Workers []WorkerInfo `json:"workers"`
}

// State builds a point-in-time topology report, entries sorted by ID.
func (m *Manager) State() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{
		Filters: make([]FilterInfo, 0, len(m.filters)),
		Paths:   make([]PathInfo, 0, len(m.paths)),
		Workers: make([]WorkerInfo, 0, len(m.workers)),
	}
	for _, id := range sortedKeys(m.filters) {
		rep.Filters = append(rep.Filters, FilterInfo{ID: id, State: m.filters[id].State()})
	}
	for _, id := range sortedKeys(m.paths) {
		p := m.paths[id]
		rep.Paths = append(rep.Paths, PathInfo{
			ID:                id,
			OriginFilter:      p.originID,
			DestinationFilter: p.destinationID,
			OriginWriter:      p.orgWriterID,
			DestinationReader: p.dstReaderID,
			Filters:           p.Filters(),
		})
	}
	for _, id := range sortedKeys(m.workers) {
		rep.Workers = append(rep.Workers, WorkerInfo{ID: id, State: m.workers[id].State()})
	}
	return rep
}
