package api

import (
	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/engine"
	"github.com/dockfra/dockfra/internal/shell/docker"
)

// =============================================================================
// Request Types
// =============================================================================

// ActionRequest is the POST /api/action body.
type ActionRequest struct {
	Action string            `json:"action"`
	Form   map[string]string `json:"form,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// ActionResponse carries every event emitted while the action ran.
type ActionResponse struct {
	OK     bool           `json:"ok"`
	Result []domain.Event `json:"result"`
}

// EventsResponse is the polling payload.
type EventsResponse struct {
	Events []domain.Event `json:"events"`
	MaxID  int64          `json:"max_id"`
}

// LogsResponse is the raw log tail payload.
type LogsResponse struct {
	Lines []engine.LogEntry `json:"lines"`
	Total int               `json:"total"`
}

// ContainerResponse is one entry of GET /api/containers.
type ContainerResponse struct {
	Name   string               `json:"name"`
	Status string               `json:"status"`
	Ports  []docker.PortBinding `json:"ports"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
