package api

import (
	"github.com/sta-electricity/outagesync/internal/database"
)

// ========== Sync Types ==========

// SyncResponse is the body of POST /api/sync. Callers must check both the
// HTTP status and Success.
type SyncResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Source           string `json:"source,omitempty"`
	ChannelKey       int64  `json:"channelKey,omitempty"`
	CreatedIncidents int    `json:"createdIncidents"`
	ClosedIncidents  int    `json:"closedIncidents"`
	TotalProcessed   int    `json:"totalProcessed"`
	InsertedDetails  int    `json:"insertedDetails"`
	FailedStep       string `json:"failedStep,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ========== Test Data Types ==========

// Defaults for fields missing from a TestDataRequest body.
const (
	DefaultTestDataCount    = 10
	DefaultTestDataScenario = "mixed"
)

// TestDataRequest is the body of POST /api/testdata/{kind}-incidents.
type TestDataRequest struct {
	Count    int    `json:"count" validate:"required,min=1,max=100"`
	Scenario string `json:"scenario" validate:"required,oneof=planned emergency global mixed"`
}

// TestDataResponse wraps generated source incidents.
type TestDataResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	Data    []database.SourceIncident `json:"data,omitempty"`
}

// ========== Ignored Outage Types ==========

// IgnoreOutageRequest is the body of POST /api/ignored-outages.
type IgnoreOutageRequest struct {
	IncidentID int64  `json:"incident_id" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"omitempty,max=500"`
}

// ========== Auth Types ==========

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// ========== Health Types ==========

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
