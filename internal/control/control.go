// Package control implements the JSON control plane: named events with
// parameters arriving over a stream transport, dispatched against the
// pipeline manager. Every response carries an "error" field, null on
// success. Error strings are part of the wire protocol; existing clients
// match on them, so they change only deliberately.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/zsiec/weave/internal/filter"
	"github.com/zsiec/weave/internal/media"
	"github.com/zsiec/weave/internal/pipeline"
	"github.com/zsiec/weave/internal/worker"
)

// Protocol error strings.
const (
	errFilterJSON     = "Error creating filter. Invalid JSON format..."
	errFilterType     = "Error creating filter. Specified type is not correct.."
	errFilterExists   = "Error registering filter. Specified ID already exists.."
	errPathJSON       = "Error creating path. Invalid JSON format..."
	errPathFilterIDs  = "Error creating path. Check introduced filter IDs..."
	errPathConnect    = "Error connecting path. Check the chain wiring..."
	errPathExists     = "Error registering path. Path ID already exists..."
	errWorkerJSON     = "Error creating worker. Invalid JSON format..."
	errWorkerType     = "Error creating worker. Check type..."
	errWorkerExists   = "Error registering worker. Specified ID already exists.."
	errWorkerStart    = "Error starting workers..."
	errSlavesJSON     = "Error adding slaves to worker. Invalid JSON format..."
	errSlavesMaster   = "Error adding slaves to worker. Invalid Master ID..."
	errSlavesInvalid  = "Error adding slaves to worker. Check slave IDs..."
	errAssignJSON     = "Error adding filters to worker. Invalid JSON format..."
	errAssignInvalid  = "Error adding filters to worker. Invalid internal error..."
	errReconfigJSON   = "Error configure audio encoder. Encoder ID is not valid"
	errReconfigNoPath = "Error reconfiguring audio encoder"
	errUnknownAction  = "Error processing event. Unknown action..."
)

// Request is one control event.
type Request struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// Response is the reply to one control event. Extra keys (the getState
// topology) ride beside the mandatory error field.
type Response map[string]any

func ok() Response             { return Response{"error": nil} }
func fail(msg string) Response { return Response{"error": msg} }

// Controller dispatches control events against a pipeline manager. The
// manager serializes its own mutations, so a Controller may be driven from
// any number of transport goroutines.
type Controller struct {
	log *slog.Logger
	mgr *pipeline.Manager
}

// NewController creates a Controller. If log is nil, slog.Default() is
// used.
func NewController(mgr *pipeline.Manager, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log: log.With("component", "control"),
		mgr: mgr,
	}
}

// Dispatch runs one event and returns its response.
func (c *Controller) Dispatch(req Request) Response {
	c.log.Debug("event", "action", req.Action)
	switch req.Action {
	case "getState":
		return c.getState()
	case "createFilter":
		return c.createFilter(req.Params)
	case "createPath":
		return c.createPath(req.Params)
	case "addWorker":
		return c.addWorker(req.Params)
	case "addSlavesToWorker":
		return c.addSlavesToWorker(req.Params)
	case "addFiltersToWorker":
		return c.addFiltersToWorker(req.Params)
	case "removePath":
		return c.removePath(req.Params)
	case "reconfigAudioEncoder":
		return c.reconfigAudioEncoder(req.Params)
	}
	c.log.Warn("unknown action", "action", req.Action)
	return fail(errUnknownAction)
}

func (c *Controller) getState() Response {
	rep := c.mgr.State()
	return Response{
		"error":   nil,
		"filters": rep.Filters,
		"paths":   rep.Paths,
		"workers": rep.Workers,
	}
}

func (c *Controller) createFilter(raw json.RawMessage) Response {
	var p struct {
		ID   *int    `json:"id"`
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == nil || p.Type == nil {
		return fail(errFilterJSON)
	}

	t, typeOk := filter.TypeFromString(*p.Type)
	if !typeOk {
		return fail(errFilterType)
	}
	f := c.mgr.CreateFilter(t)
	if f == nil {
		return fail(errFilterType)
	}
	if err := c.mgr.AddFilter(*p.ID, f); err != nil {
		return fail(errFilterExists)
	}
	return ok()
}

func (c *Controller) createPath(raw json.RawMessage) Response {
	var p struct {
		ID          *int   `json:"id"`
		OrgFilterID *int   `json:"orgFilterId"`
		DstFilterID *int   `json:"dstFilterId"`
		OrgWriterID *int   `json:"orgWriterId"`
		DstReaderID *int   `json:"dstReaderId"`
		MidFilters  *[]int `json:"midFiltersIds"`
		SharedQueue *bool  `json:"sharedQueue"`
	}
	if err := json.Unmarshal(raw, &p); err != nil ||
		p.ID == nil || p.OrgFilterID == nil || p.DstFilterID == nil ||
		p.OrgWriterID == nil || p.DstReaderID == nil ||
		p.MidFilters == nil || p.SharedQueue == nil {
		return fail(errPathJSON)
	}

	// Duplicate IDs are rejected before any queue is wired; a validation
	// error must leave no side effects behind.
	if _, exists := c.mgr.Path(*p.ID); exists {
		return fail(errPathExists)
	}

	path, err := c.mgr.CreatePath(*p.OrgFilterID, *p.DstFilterID,
		*p.OrgWriterID, *p.DstReaderID, *p.MidFilters, *p.SharedQueue)
	if err != nil {
		return fail(errPathFilterIDs)
	}
	if err := c.mgr.ConnectPath(path); err != nil {
		c.log.Error("path connect failed", "id", *p.ID, "error", err)
		return fail(errPathConnect)
	}
	if err := c.mgr.AddPath(*p.ID, path); err != nil {
		return fail(errPathExists)
	}
	return ok()
}

func (c *Controller) addWorker(raw json.RawMessage) Response {
	var p struct {
		ID   *int    `json:"id"`
		Type *string `json:"type"`
		FPS  int     `json:"fps"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == nil || p.Type == nil {
		return fail(errWorkerJSON)
	}

	t, typeOk := worker.TypeFromString(*p.Type)
	if !typeOk {
		return fail(errWorkerType)
	}
	w := worker.New(t, p.FPS, c.log)
	if w == nil {
		return fail(errWorkerType)
	}
	if err := c.mgr.AddWorker(*p.ID, w); err != nil {
		return fail(errWorkerExists)
	}
	if err := c.mgr.StartWorkers(); err != nil {
		return fail(errWorkerStart)
	}
	return ok()
}

func (c *Controller) addSlavesToWorker(raw json.RawMessage) Response {
	var p struct {
		Master *int   `json:"master"`
		Slaves *[]int `json:"slaves"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Master == nil || p.Slaves == nil {
		return fail(errSlavesJSON)
	}

	if err := c.mgr.AddSlaves(*p.Master, *p.Slaves); err != nil {
		if errors.Is(err, pipeline.ErrNotMaster) || errors.Is(err, pipeline.ErrUnknownWorker) {
			return fail(errSlavesMaster)
		}
		return fail(errSlavesInvalid)
	}
	if err := c.mgr.StartWorkers(); err != nil {
		return fail(errWorkerStart)
	}
	return ok()
}

func (c *Controller) addFiltersToWorker(raw json.RawMessage) Response {
	var p struct {
		Worker  *int   `json:"worker"`
		Filters *[]int `json:"filters"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Worker == nil || p.Filters == nil {
		return fail(errAssignJSON)
	}

	for _, id := range *p.Filters {
		if err := c.mgr.AddFilterToWorker(*p.Worker, id); err != nil {
			return fail(errAssignInvalid)
		}
	}
	if err := c.mgr.StartWorkers(); err != nil {
		return fail(errWorkerStart)
	}
	return ok()
}

func (c *Controller) removePath(raw json.RawMessage) Response {
	var p struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == nil {
		return fail(errPathJSON)
	}
	if err := c.mgr.RemovePath(*p.ID); err != nil {
		return fail(errPathFilterIDs)
	}
	return ok()
}

func (c *Controller) reconfigAudioEncoder(raw json.RawMessage) Response {
	var p struct {
		EncoderID  *int    `json:"encoderID"`
		Codec      *string `json:"codec"`
		SampleRate *int    `json:"sampleRate"`
		Channels   *int    `json:"channels"`
	}
	if err := json.Unmarshal(raw, &p); err != nil ||
		p.EncoderID == nil || p.Codec == nil || p.SampleRate == nil || p.Channels == nil {
		return fail(errReconfigJSON)
	}

	codec := media.AudioCodecFromString(*p.Codec)
	if codec == media.AudioCodecNone {
		return fail(errReconfigJSON)
	}
	if _, _, err := c.mgr.ReconfigAudioEncoder(*p.EncoderID, codec, *p.SampleRate, *p.Channels); err != nil {
		c.log.Error("encoder reconfig failed", "encoder", *p.EncoderID, "error", err)
		return fail(errReconfigNoPath)
	}
	return ok()
}
