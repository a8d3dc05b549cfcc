package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/sta-electricity/outagesync/internal/api"
	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/services"
)

// handleGenerateTestData handles POST /api/testdata/{cabin|cable}-incidents
func (h *APIHandler) handleGenerateTestData(w http.ResponseWriter, r *http.Request) {
	kind, ok := strings.CutSuffix(r.PathValue("kind"), "-incidents")
	ch, found := database.ChannelByKind(kind)
	if !ok || !found {
		api.RespondError(w, http.StatusNotFound, "Unknown test data kind")
		return
	}

	req := api.TestDataRequest{
		Count:    api.DefaultTestDataCount,
		Scenario: api.DefaultTestDataScenario,
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Scenario = strings.ToLower(strings.TrimSpace(req.Scenario))
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	scenario, err := services.ParseScenario(req.Scenario)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	incidents, err := h.generator.Generate(r.Context(), ch, req.Count, scenario)
	if err != nil {
		log.Printf("APIHandler: Failed to generate %s incidents: %v", ch.GeneratorKind, err)
		api.RespondJSON(w, http.StatusInternalServerError, api.TestDataResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to generate %s incidents", ch.GeneratorKind),
		})
		return
	}

	api.RespondJSON(w, http.StatusOK, api.TestDataResponse{
		Success: true,
		Message: fmt.Sprintf("Generated %d %s incidents for scenario: %s", len(incidents), ch.GeneratorKind, scenario),
		Data:    incidents,
	})
}
