package docker

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// =============================================================================
// CLI Shell-Out
// =============================================================================

// CLI shells out to the docker binary. It is the primary log source: the
// binary resolves contexts and credential helpers the SDK socket path can
// miss, and its output matches what an operator sees in their terminal.
type CLI struct {
	binary string
}

// NewCLI returns a CLI wrapper using binary, or "docker" when empty.
func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = "docker"
	}
	return &CLI{binary: binary}
}

// TailLogs runs `docker logs --tail N` and returns the merged output.
func (c *CLI) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	out, err := exec.CommandContext(ctx, c.binary, "logs", "--tail", strconv.Itoa(lines), nameOrID).CombinedOutput()
	if err != nil {
		if _, lookErr := exec.LookPath(c.binary); lookErr != nil {
			return "", NewDockerError("TailLogs", "container", nameOrID, "docker binary not found", ErrCLIUnavailable)
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		if strings.Contains(msg, "No such container") {
			return "", NewDockerError("TailLogs", "container", nameOrID, msg, ErrContainerNotFound)
		}
		return "", NewDockerError("TailLogs", "container", nameOrID, msg, err)
	}
	return string(out), nil
}

// =============================================================================
// Log Tailer
// =============================================================================

// LogSource yields the last lines of a container's merged output.
type LogSource interface {
	TailLogs(ctx context.Context, nameOrID string, lines int) (string, error)
}

// Tailer tries the CLI first and falls back to the SDK when the binary is
// missing or errors out.
type Tailer struct {
	primary  LogSource
	fallback LogSource
}

// NewTailer builds a tailer from a primary and an optional fallback source.
func NewTailer(primary, fallback LogSource) *Tailer {
	return &Tailer{primary: primary, fallback: fallback}
}

// TailLogs returns the merged tail from the first source that answers.
func (t *Tailer) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	out, err := t.primary.TailLogs(ctx, nameOrID, lines)
	if err == nil {
		return out, nil
	}
	if t.fallback == nil {
		return "", err
	}
	return t.fallback.TailLogs(ctx, nameOrID, lines)
}
