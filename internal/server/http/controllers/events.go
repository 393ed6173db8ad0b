package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/docflow/internal/deadletter"
	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/internal/runtime"
	"github.com/rzbill/docflow/pkg/log"
)

const maxEventBytes = 1 << 20

// EventsController appends events and exposes the data derived from them:
// submission projections, range cursors and dead letters.
type EventsController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

// NewEventsController creates a new events controller.
func NewEventsController(rt *runtime.Runtime, logger log.Logger) *EventsController {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &EventsController{rt: rt, logger: logger.WithComponent("http")}
}

// RegisterRoutes registers event routes with the given mux.
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events", c.handleAppend)
	mux.HandleFunc("GET /v1/submissions/{id}", c.handleSubmission)
	mux.HandleFunc("GET /v1/ranges", c.handleRanges)
	mux.HandleFunc("GET /v1/ranges/{id}/cursor", c.handleCursor)
	mux.HandleFunc("GET /v1/deadletters", c.handleDeadLetters)
}

type appendResp struct {
	ID       string `json:"id"`
	Range    string `json:"range"`
	Seq      uint64 `json:"seq"`
	Appended bool   `json:"appended"`
}

// handleAppend takes one wire envelope. 201 when the event was appended,
// 200 when an event with the same id was already in the log.
func (c *EventsController) handleAppend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	body, err = withEventID(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ev, err := event.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.Type == event.SubmissionPreparationCompleted {
		writeError(w, http.StatusBadRequest, "SubmissionPreparationCompleted is emitted by the projection and cannot be appended")
		return
	}
	pos, appended, err := c.rt.Log().Append(r.Context(), ev)
	if err != nil {
		c.logger.Error("append failed", log.Str("event_id", ev.ID), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to append event")
		return
	}
	status := http.StatusOK
	if appended {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, appendResp{ID: ev.ID, Range: pos.Range, Seq: pos.Seq, Appended: appended})
}

// withEventID fills in a random id when the envelope has none.
func withEventID(body []byte) ([]byte, error) {
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	var id string
	if raw, ok := wire["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id != "" {
		return body, nil
	}
	raw, _ := json.Marshal(uuid.NewString())
	wire["id"] = raw
	return json.Marshal(wire)
}

func (c *EventsController) handleSubmission(w http.ResponseWriter, r *http.Request) {
	s, ok, err := c.rt.Projections().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read submission")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	writeJSON(w, s)
}

func (c *EventsController) handleRanges(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ranges": c.rt.Ranges().All()})
}

type cursorResp struct {
	Range      string `json:"range"`
	Seq        uint64 `json:"seq"`
	Generation uint64 `json:"generation"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

func (c *EventsController) handleCursor(w http.ResponseWriter, r *http.Request) {
	rangeID := r.PathValue("id")
	if _, err := c.rt.Ranges().Index(rangeID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	cur, ok, err := c.rt.Cursors().Get(r.Context(), rangeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read cursor")
		return
	}
	resp := cursorResp{Range: rangeID}
	if ok {
		seq, err := eventlog.SeqFromToken(cur.Token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Seq = seq
		resp.Generation = cur.Generation
		resp.UpdatedAt = cur.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, resp)
}

func (c *EventsController) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := deadletter.ListOptions{
		Range: q.Get("range"),
		After: q.Get("after"),
		Limit: parseLimit(q.Get("limit")),
	}
	recs, err := c.rt.DeadLetters().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	if recs == nil {
		recs = []deadletter.Record{}
	}
	writeJSON(w, map[string]any{"deadLetters": recs})
}
