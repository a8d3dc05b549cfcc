package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/sta-electricity/outagesync/internal/api"
	"github.com/sta-electricity/outagesync/internal/services"
)

// defaultSyncSource is used when the source query parameter is absent.
const defaultSyncSource = "A"

// handleSync handles POST /api/sync?source=A|B
func (h *APIHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	source := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("source")))
	if source == "" {
		source = defaultSyncSource
	}

	result, err := h.syncService.Synchronize(r.Context(), source)
	if errors.Is(err, services.ErrUnknownSource) {
		api.RespondJSON(w, http.StatusBadRequest, api.SyncResponse{
			Success: false,
			Message: "Unknown source, expected A or B",
			Source:  source,
			Error:   err.Error(),
		})
		return
	}

	resp := api.SyncResponse{Source: source}
	if result != nil {
		resp.ChannelKey = result.ChannelKey
		resp.CreatedIncidents = result.CreatedCount
		resp.ClosedIncidents = result.ClosedCount
		resp.TotalProcessed = result.TotalProcessed()
		resp.InsertedDetails = result.InsertedDetails
	}

	if err != nil {
		log.Printf("APIHandler: Sync of source %s failed: %v", source, err)
		resp.Message = fmt.Sprintf("Synchronization failed for source %s", source)
		resp.Error = err.Error()
		if result != nil {
			resp.FailedStep = string(result.FailedStep)
		}
		api.RespondJSON(w, http.StatusInternalServerError, resp)
		return
	}

	resp.Success = true
	resp.Message = fmt.Sprintf("Synchronization finished for source %s", source)
	api.RespondJSON(w, http.StatusOK, resp)
}
