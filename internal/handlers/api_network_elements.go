package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/sta-electricity/outagesync/internal/api"
	"github.com/sta-electricity/outagesync/internal/services"
)

// handleElementHierarchy handles GET /api/network-elements/hierarchy
func (h *APIHandler) handleElementHierarchy(w http.ResponseWriter, r *http.Request) {
	tree, err := h.elementService.Hierarchy(r.Context())
	if err != nil {
		log.Printf("APIHandler: Failed to build element hierarchy: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to load network hierarchy")
		return
	}
	api.RespondJSON(w, http.StatusOK, tree)
}

// handleSearchElements handles GET /api/network-elements/search
func (h *APIHandler) handleSearchElements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.ElementFilter{Term: strings.TrimSpace(q.Get("search"))}

	if raw := q.Get("type_key"); raw != "" {
		typeKey, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || typeKey <= 0 {
			api.RespondError(w, http.StatusBadRequest, "type_key must be a positive integer")
			return
		}
		filter.TypeKey = typeKey
	}
	if raw := q.Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, "is_active must be true or false")
			return
		}
		filter.IsActive = &active
	}

	p := api.ParsePagination(r)
	items, total, err := h.elementService.Search(r.Context(), filter, p.Offset(), p.PerPage)
	if err != nil {
		log.Printf("APIHandler: Failed to search network elements: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to search network elements")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data:       items,
		Pagination: p.Meta(total),
	})
}

// handleGetElement handles GET /api/network-elements/{key}
func (h *APIHandler) handleGetElement(w http.ResponseWriter, r *http.Request) {
	key, err := api.PathInt64(r, "key")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	el, err := h.elementService.Get(r.Context(), key)
	if errors.Is(err, services.ErrElementNotFound) {
		api.RespondError(w, http.StatusNotFound, "Network element not found")
		return
	}
	if err != nil {
		log.Printf("APIHandler: Failed to get network element %d: %v", key, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to get network element")
		return
	}
	api.RespondJSON(w, http.StatusOK, el)
}

// handleElementChildren handles GET /api/network-elements/{key}/children
func (h *APIHandler) handleElementChildren(w http.ResponseWriter, r *http.Request) {
	key, err := api.PathInt64(r, "key")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.elementService.Children(r.Context(), key)
	if errors.Is(err, services.ErrElementNotFound) {
		api.RespondError(w, http.StatusNotFound, "Network element not found")
		return
	}
	if err != nil {
		log.Printf("APIHandler: Failed to list children of %d: %v", key, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list child elements")
		return
	}
	api.RespondJSON(w, http.StatusOK, items)
}
