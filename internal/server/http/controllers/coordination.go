package controllers

import (
	"net/http"

	"github.com/rzbill/docflow/internal/coord"
	"github.com/rzbill/docflow/internal/runtime"
)

// CoordinationController exposes the lease, heartbeats and assignment.
type CoordinationController struct {
	rt *runtime.Runtime
}

// NewCoordinationController creates a new coordination controller.
func NewCoordinationController(rt *runtime.Runtime) *CoordinationController {
	return &CoordinationController{rt: rt}
}

// RegisterRoutes registers coordination routes with the given mux.
func (c *CoordinationController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/lease", c.handleLease)
	mux.HandleFunc("GET /v1/heartbeats", c.handleHeartbeats)
	mux.HandleFunc("GET /v1/assignment", c.handleAssignment)
}

func (c *CoordinationController) handleLease(w http.ResponseWriter, r *http.Request) {
	l, ok, err := c.rt.Coordination().GetLease(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read lease")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no lease")
		return
	}
	writeJSON(w, l)
}

func (c *CoordinationController) handleHeartbeats(w http.ResponseWriter, r *http.Request) {
	hbs, err := c.rt.Coordination().ListHeartbeats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list heartbeats")
		return
	}
	if hbs == nil {
		hbs = []coord.Heartbeat{}
	}
	writeJSON(w, map[string]any{"heartbeats": hbs})
}

func (c *CoordinationController) handleAssignment(w http.ResponseWriter, r *http.Request) {
	a, ok, err := c.rt.Coordination().GetAssignment(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read assignment")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no assignment")
		return
	}
	writeJSON(w, a)
}
