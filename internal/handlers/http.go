package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sta-electricity/outagesync/internal/api"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// HTTPHandler serves unauthenticated operational endpoints.
type HTTPHandler struct {
	db *gorm.DB
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(db *gorm.DB) *HTTPHandler {
	return &HTTPHandler{db: db}
}

// SetupRoutes configures the health route.
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
}

// handleHealth reports 503 when the database does not answer a ping.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Database: "ok", Version: Version}

	if err := h.ping(r.Context()); err != nil {
		log.Printf("HTTPHandler: Database health check failed: %v", err)
		resp.Status = "degraded"
		resp.Database = "unavailable"
		api.RespondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	api.RespondJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
