// Package docker talks to the container runtime: the SDK client for
// inspection and repair operations, plus a docker CLI shell-out used as the
// primary log source.
package docker

import (
	"context"
	"time"
)

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus is the runtime's view of a container's lifecycle state.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// PortBinding defines a published port mapping.
type PortBinding struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
	HostIP        string `json:"host_ip,omitempty"`
}

// ContainerInfo is the slice of container state the diagnostic engine cares
// about.
type ContainerInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Status     ContainerStatus   `json:"status"`
	State      string            `json:"state"`
	Health     string            `json:"health,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Ports      []PortBinding     `json:"ports,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	ExitCode   int               `json:"exit_code"`
	Restarts   int               `json:"restarts"`
}

// IsHealthy reports whether the container is running and, if it has a
// healthcheck, passing it.
func (c ContainerInfo) IsHealthy() bool {
	if c.Status != ContainerStatusRunning {
		return false
	}
	return c.Health == "" || c.Health == "healthy"
}

// =============================================================================
// Runtime Interface
// =============================================================================

// Runtime is the container runtime surface the engine depends on. The SDK
// client implements it; tests substitute fakes.
type Runtime interface {
	ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error)
	InspectContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error)
	TailLogs(ctx context.Context, nameOrID string, lines int) (string, error)
	RestartContainer(ctx context.Context, nameOrID string, timeout *time.Duration) error

	RemoveNetwork(ctx context.Context, nameOrID string) error
	PruneNetworks(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

// Compose attaches these labels to every container it manages; the engine
// uses them to scope scans to one stack.
const (
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"
)
