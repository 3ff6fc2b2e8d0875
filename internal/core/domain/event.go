// Package domain contains the core types of the diagnostic engine.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package domain

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Event
// =============================================================================

// Event is the atom of the engine: an immutable record persisted to the
// store and fanned out to subscribers. ID 0 means "not yet persisted".
type Event struct {
	ID   int64          `json:"id"`
	TS   float64        `json:"ts"`
	Src  string         `json:"src"`
	Type string         `json:"event"`
	Data map[string]any `json:"data"`
}

// Now returns wall-clock seconds suitable for Event.TS.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// CloneData returns a deep copy of the event payload so subscribers cannot
// mutate a persisted event.
func (e Event) CloneData() map[string]any {
	if e.Data == nil {
		return nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// =============================================================================
// Event Types (wire-visible)
// =============================================================================

const (
	EventSystemStarted = "system.started"
	EventSystemStopped = "system.stopped"

	EventMessage      = "message"
	EventWidget       = "widget"
	EventClearWidgets = "clear_widgets"
	EventLogLine      = "log_line"

	EventTicketCreated   = "ticket.created"
	EventTicketUpdated   = "ticket.updated"
	EventTicketClosed    = "ticket.closed"
	EventTicketCommented = "ticket.commented"
	EventTicketAssigned  = "ticket.assigned"

	EventPipelineStarted   = "pipeline.started"
	EventPipelineStepDone  = "pipeline.step_done"
	EventPipelineCompleted = "pipeline.completed"
	EventPipelineFailed    = "pipeline.failed"

	EventEngineDetected   = "engine.detected"
	EventEngineSelected   = "engine.selected"
	EventEngineTestResult = "engine.test_result"

	EventConfigError = "config.error"
	EventConfigFixed = "config.fixed"

	EventContainerStarted = "container.started"
	EventContainerStopped = "container.stopped"
	EventContainerHealth  = "container.health"

	EventDeployStarted   = "deploy.started"
	EventDeployCompleted = "deploy.completed"
	EventDeployFailed    = "deploy.failed"
)

// =============================================================================
// Source Tags
// =============================================================================

const (
	SrcWeb           = "web"
	SrcCLI           = "cli"
	SrcSystem        = "system"
	SrcHealthMonitor = "health_monitor"
	SrcPipeline      = "pipeline"
	SrcDeploy        = "deploy"
)

// Message roles for EventMessage payloads.
const (
	RoleBot  = "bot"
	RoleUser = "user"
)

// =============================================================================
// HealthFinding
// =============================================================================

// Solution is one remediation action offered to the user.
type Solution struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// HealthFinding is the analyzer's verdict for a single container. Findings
// are transient: produced on demand, never stored as events themselves.
type HealthFinding struct {
	Container string     `json:"container"`
	Status    string     `json:"status"`
	Finding   string     `json:"finding"`
	Solutions []Solution `json:"solutions"`
}
