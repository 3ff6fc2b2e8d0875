package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/core/pattern"
	"github.com/dockfra/dockfra/internal/shell/docker"
)

// ErrRuntimeUnavailable is returned when no container runtime is wired.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// tailLines is how much log history one diagnosis looks at.
const tailLines = 40

// =============================================================================
// Per-Container Analysis
// =============================================================================

// AnalyzeContainerLog diagnoses one container from its log tail. It returns
// the finding as markdown plus remediation buttons; fetch failures yield a
// short error string, never an error.
func (e *DiagnosticEngine) AnalyzeContainerLog(ctx context.Context, name string) (string, []domain.Button) {
	blob, err := e.fetchTail(ctx, name, tailLines)
	if err != nil {
		return fmt.Sprintf("Could not read logs for %s: %v", name, err), nil
	}

	aiButton := domain.Button{Label: "Analyze with AI", Value: "ai_analyze::" + name}

	res := e.matcher.MatchMultiline(blob, pattern.NewFiredSet())
	if res == nil {
		finding := fmt.Sprintf("```\n%s\n```", lastLines(blob, 5))
		return finding, []domain.Button{
			aiButton,
			{Label: "Show full logs", Value: "show_logs::" + name},
		}
	}

	finding := fmt.Sprintf("**%s**\n```\n%s\n```", res.Message, lastLines(blob, 6))
	buttons := res.SolutionButtons(name)
	buttons = append(buttons, aiButton)
	return finding, buttons
}

// fetchTail tries the CLI-first tailer, then the SDK.
func (e *DiagnosticEngine) fetchTail(ctx context.Context, name string, lines int) (string, error) {
	if e.tailer != nil {
		out, err := e.tailer.TailLogs(ctx, name, lines)
		if err == nil {
			return out, nil
		}
		if e.runtime == nil {
			return "", err
		}
		e.logger.Debug("log tailer failed, trying SDK", "container", name, "error", err)
	}
	if e.runtime == nil {
		return "", ErrRuntimeUnavailable
	}
	return e.runtime.TailLogs(ctx, name, lines)
}

// lastLines returns the final n non-empty lines of blob.
func lastLines(blob string, n int) string {
	all := strings.Split(strings.TrimRight(blob, "\n"), "\n")
	kept := make([]string, 0, len(all))
	for _, line := range all {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "\n")
}

// =============================================================================
// Health Scan
// =============================================================================

// HealthReport is the engine-wide container health summary.
type HealthReport struct {
	OK         bool                   `json:"ok"`
	Running    int                    `json:"running"`
	Failing    int                    `json:"failing"`
	Containers []docker.ContainerInfo `json:"containers"`
	Findings   []domain.HealthFinding `json:"findings"`
}

// HealthScan lists all containers, partitions them by health, and diagnoses
// each failing one.
func (e *DiagnosticEngine) HealthScan(ctx context.Context) (*HealthReport, error) {
	if e.runtime == nil {
		return nil, ErrRuntimeUnavailable
	}

	containers, err := e.runtime.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{OK: true, Containers: containers}
	for _, c := range containers {
		if c.IsHealthy() {
			report.Running++
			continue
		}
		report.OK = false
		report.Failing++

		finding, buttons := e.AnalyzeContainerLog(ctx, c.Name)
		solutions := make([]domain.Solution, 0, len(buttons))
		for _, b := range buttons {
			solutions = append(solutions, domain.Solution{Label: b.Label, Value: b.Value})
		}
		report.Findings = append(report.Findings, domain.HealthFinding{
			Container: c.Name,
			Status:    string(c.Status),
			Finding:   finding,
			Solutions: solutions,
		})
	}
	return report, nil
}

// =============================================================================
// Post-Launch Sweep
// =============================================================================

// postLaunchSweep waits for the stack to settle, then reports every failing
// container with remediation buttons.
func (e *DiagnosticEngine) postLaunchSweep(ctx context.Context, src string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(e.sweepDelay):
	}

	report, err := e.HealthScan(ctx)
	if err != nil {
		e.say(ctx, src, fmt.Sprintf("🟡 **Could not check container health:** %v", err))
		return
	}

	if report.OK {
		e.say(ctx, src, fmt.Sprintf("✅ **All %d containers are running.**", report.Running))
		return
	}

	for _, finding := range report.Findings {
		e.bus.Emit(ctx, domain.EventContainerHealth, map[string]any{
			"container": finding.Container,
			"status":    finding.Status,
			"finding":   finding.Finding,
		}, src)

		e.say(ctx, src, fmt.Sprintf("🔴 **%s is %s**\n%s", finding.Container, finding.Status, finding.Finding))
		e.show(ctx, src, domain.Buttons{Items: []domain.Button{
			{Label: "Fix " + finding.Container, Value: "fix_container::" + finding.Container},
			{Label: "Restart container " + finding.Container, Value: "restart_container::" + finding.Container},
			{Label: "Settings", Value: "settings"},
		}})
	}
}

// =============================================================================
// Periodic Monitor
// =============================================================================

// monitorLoop re-scans on an interval and reports containers that newly
// started failing since the previous tick.
func (e *DiagnosticEngine) monitorLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	known := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := e.HealthScan(ctx)
		if err != nil {
			e.logger.Warn("health scan failed", "error", err)
			continue
		}

		current := make(map[string]bool, len(report.Findings))
		for _, finding := range report.Findings {
			current[finding.Container] = true
			if known[finding.Container] {
				continue
			}
			e.bus.Emit(ctx, domain.EventContainerStopped, map[string]any{
				"container": finding.Container,
				"status":    finding.Status,
			}, domain.SrcHealthMonitor)
			e.bus.Emit(ctx, domain.EventContainerHealth, map[string]any{
				"container": finding.Container,
				"status":    finding.Status,
				"finding":   finding.Finding,
			}, domain.SrcHealthMonitor)
			e.say(ctx, domain.SrcHealthMonitor,
				fmt.Sprintf("🔴 **%s is %s**\n%s", finding.Container, finding.Status, finding.Finding))
			e.show(ctx, domain.SrcHealthMonitor, domain.Buttons{Items: []domain.Button{
				{Label: "Fix " + finding.Container, Value: "fix_container::" + finding.Container},
				{Label: "Restart container " + finding.Container, Value: "restart_container::" + finding.Container},
			}})
		}
		for name := range known {
			if !current[name] {
				e.bus.Emit(ctx, domain.EventContainerStarted, map[string]any{
					"container": name,
				}, domain.SrcHealthMonitor)
			}
		}
		known = current
	}
}
