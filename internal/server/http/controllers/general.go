package controllers

import (
	"net/http"

	"github.com/rzbill/docflow/internal/coord"
	"github.com/rzbill/docflow/internal/runtime"
)

// ReplicaStatus is the view of the local replica exposed over HTTP.
type ReplicaStatus interface {
	ID() string
	Running() bool
	Role() coord.Role
	Owned() []string
}

// GeneralController serves health and replica status.
type GeneralController struct {
	rt     *runtime.Runtime
	status ReplicaStatus
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, status ReplicaStatus) *GeneralController {
	return &GeneralController{rt: rt, status: status}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	mux.HandleFunc("GET /v1/replica", c.handleReplica)
}

// handleHealth returns 200 with {"status":"ok"} when the backend answers,
// 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "backend": c.rt.Backend()})
}

type replicaResp struct {
	ID      string   `json:"id"`
	Running bool     `json:"running"`
	Role    string   `json:"role"`
	Owned   []string `json:"owned"`
}

func (c *GeneralController) handleReplica(w http.ResponseWriter, _ *http.Request) {
	if c.status == nil {
		writeError(w, http.StatusNotFound, "no local replica")
		return
	}
	owned := c.status.Owned()
	if owned == nil {
		owned = []string{}
	}
	writeJSON(w, replicaResp{
		ID:      c.status.ID(),
		Running: c.status.Running(),
		Role:    c.status.Role().String(),
		Owned:   owned,
	})
}
