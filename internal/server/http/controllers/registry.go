package controllers

import (
	"net/http"

	"github.com/rzbill/docflow/internal/runtime"
	"github.com/rzbill/docflow/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general      *GeneralController
	events       *EventsController
	coordination *CoordinationController
}

// NewControllerRegistry creates a new controller registry. status may be nil
// when the server runs without a local replica.
func NewControllerRegistry(rt *runtime.Runtime, status ReplicaStatus, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:      NewGeneralController(rt, status),
		events:       NewEventsController(rt, logger),
		coordination: NewCoordinationController(rt),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.events.RegisterRoutes(mux)
	r.coordination.RegisterRoutes(mux)
}
