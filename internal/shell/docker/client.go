package docker

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// SDK Client
// =============================================================================

// Client implements Runtime using the Docker SDK.
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker SDK client. If host is empty the environment
// default is used. On macOS with Docker Desktop it falls back to the
// per-user socket when the default one does not answer.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &Client{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &Client{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *Client) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the underlying connection.
func (d *Client) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// ListContainers returns the containers known to the daemon. With all=false
// only running containers are included.
func (d *Client) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			State:     c.Status,
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}
	return result, nil
}

// InspectContainer returns detailed state for one container.
func (d *Client) InspectContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", nameOrID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", nameOrID, err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	var startedAt, finishedAt *time.Time
	if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
		startedAt = &t
	}
	if resp.State.FinishedAt != "" && resp.State.FinishedAt != "0001-01-01T00:00:00Z" {
		t, _ := time.Parse(time.RFC3339Nano, resp.State.FinishedAt)
		finishedAt = &t
	}

	var ports []PortBinding
	for containerPort, bindings := range resp.NetworkSettings.Ports {
		port, proto := nat.Port(containerPort).Port(), nat.Port(containerPort).Proto()
		for _, binding := range bindings {
			hostPort, _ := strconv.Atoi(binding.HostPort)
			containerPortInt, _ := strconv.Atoi(port)
			ports = append(ports, PortBinding{
				ContainerPort: containerPortInt,
				HostPort:      hostPort,
				Protocol:      proto,
				HostIP:        binding.HostIP,
			})
		}
	}

	health := ""
	if resp.State.Health != nil {
		health = resp.State.Health.Status
	}

	return &ContainerInfo{
		ID:         resp.ID,
		Name:       strings.TrimPrefix(resp.Name, "/"),
		Image:      resp.Config.Image,
		Status:     ContainerStatus(resp.State.Status),
		State:      resp.State.Status,
		Health:     health,
		CreatedAt:  createdAt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Ports:      ports,
		Labels:     resp.Config.Labels,
		ExitCode:   resp.State.ExitCode,
		Restarts:   resp.RestartCount,
	}, nil
}

// TailLogs returns the last lines of a container's merged output via the
// SDK. Non-TTY containers multiplex stdout and stderr; both are demuxed into
// one stream.
func (d *Client) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewDockerError("TailLogs", "container", nameOrID, "container not found", ErrContainerNotFound)
		}
		return "", NewDockerError("TailLogs", "container", nameOrID, err.Error(), err)
	}

	reader, err := d.cli.ContainerLogs(ctx, nameOrID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return "", NewDockerError("TailLogs", "container", nameOrID, err.Error(), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if inspect.Config.Tty {
		_, err = buf.ReadFrom(reader)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, reader)
	}
	if err != nil {
		return "", NewDockerError("TailLogs", "container", nameOrID, err.Error(), err)
	}
	return buf.String(), nil
}

// RestartContainer restarts a container, waiting up to timeout for a clean
// stop first.
func (d *Client) RestartContainer(ctx context.Context, nameOrID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	if err := d.cli.ContainerRestart(ctx, nameOrID, stopOptions); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RestartContainer", "container", nameOrID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("RestartContainer", "container", nameOrID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Network Operations
// =============================================================================

// RemoveNetwork removes one network by name or ID.
func (d *Client) RemoveNetwork(ctx context.Context, nameOrID string) error {
	if err := d.cli.NetworkRemove(ctx, nameOrID); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveNetwork", "network", nameOrID, "network not found", ErrNetworkNotFound)
		}
		if strings.Contains(err.Error(), "has active endpoints") {
			return NewDockerError("RemoveNetwork", "network", nameOrID, "network has active endpoints", ErrNetworkInUse)
		}
		return NewDockerError("RemoveNetwork", "network", nameOrID, err.Error(), err)
	}
	return nil
}

// PruneNetworks removes all unused networks and returns their names.
func (d *Client) PruneNetworks(ctx context.Context) ([]string, error) {
	report, err := d.cli.NetworksPrune(ctx, filters.NewArgs())
	if err != nil {
		return nil, NewDockerError("PruneNetworks", "network", "", err.Error(), err)
	}
	return report.NetworksDeleted, nil
}
