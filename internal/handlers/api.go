package handlers

import (
	"net/http"

	"github.com/sta-electricity/outagesync/internal/services"
)

// APIHandler serves the /api routes used by operators and the sync worker.
type APIHandler struct {
	syncService    *services.SyncService
	generator      *services.IncidentGenerator
	ignoredService *services.IgnoredOutageService
	elementService *services.NetworkElementService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(syncService *services.SyncService, generator *services.IncidentGenerator, ignoredService *services.IgnoredOutageService, elementService *services.NetworkElementService) *APIHandler {
	return &APIHandler{
		syncService:    syncService,
		generator:      generator,
		ignoredService: ignoredService,
		elementService: elementService,
	}
}

// SetupRoutes registers all /api routes.
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", h.handleSync)

	mux.HandleFunc("POST /api/testdata/{kind}", h.handleGenerateTestData)

	mux.HandleFunc("GET /api/ignored-outages", h.handleListIgnored)
	mux.HandleFunc("POST /api/ignored-outages", h.handleIgnore)
	mux.HandleFunc("GET /api/ignored-outages/{incidentId}", h.handleGetIgnored)
	mux.HandleFunc("DELETE /api/ignored-outages/{incidentId}", h.handleUnignore)

	mux.HandleFunc("GET /api/network-elements/hierarchy", h.handleElementHierarchy)
	mux.HandleFunc("GET /api/network-elements/search", h.handleSearchElements)
	mux.HandleFunc("GET /api/network-elements/{key}", h.handleGetElement)
	mux.HandleFunc("GET /api/network-elements/{key}/children", h.handleElementChildren)
}
