package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/sta-electricity/outagesync/internal/api"
	"github.com/sta-electricity/outagesync/internal/middleware"
	"github.com/sta-electricity/outagesync/internal/services"
)

// handleListIgnored handles GET /api/ignored-outages
func (h *APIHandler) handleListIgnored(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)

	items, total, err := h.ignoredService.List(r.Context(), p.Offset(), p.PerPage)
	if err != nil {
		log.Printf("APIHandler: Failed to list ignored outages: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list ignored outages")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       items,
		Pagination: p.Meta(total),
	})
}

// handleIgnore handles POST /api/ignored-outages
func (h *APIHandler) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var req api.IgnoreOutageRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	user := middleware.GetUserFromContext(r.Context())
	item, err := h.ignoredService.Ignore(r.Context(), req.IncidentID, req.Reason, user)
	if errors.Is(err, services.ErrAlreadyIgnored) {
		api.RespondErrorWithCode(w, http.StatusConflict, "already_ignored", "Incident is already ignored")
		return
	}
	if err != nil {
		log.Printf("APIHandler: Failed to ignore incident %d: %v", req.IncidentID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to ignore incident")
		return
	}

	api.RespondJSON(w, http.StatusCreated, item)
}

// handleGetIgnored handles GET /api/ignored-outages/{incidentId}
func (h *APIHandler) handleGetIgnored(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathInt64(r, "incidentId")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.ignoredService.Get(r.Context(), id)
	if errors.Is(err, services.ErrNotIgnored) {
		api.RespondError(w, http.StatusNotFound, "Incident is not ignored")
		return
	}
	if err != nil {
		log.Printf("APIHandler: Failed to get ignored incident %d: %v", id, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to get ignored incident")
		return
	}

	api.RespondJSON(w, http.StatusOK, item)
}

// handleUnignore handles DELETE /api/ignored-outages/{incidentId}
func (h *APIHandler) handleUnignore(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathInt64(r, "incidentId")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.ignoredService.Unignore(r.Context(), id)
	if err != nil {
		log.Printf("APIHandler: Failed to unignore incident %d: %v", id, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to unignore incident")
		return
	}
	if !removed {
		api.RespondError(w, http.StatusNotFound, "Incident is not ignored")
		return
	}

	api.RespondNoContent(w)
}
