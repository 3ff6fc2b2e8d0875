package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthScan(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{
		running("web"),
		running("db"),
		exited("autopilot"),
	}
	te.runtime.logs["autopilot"] = "fatal: no config\n"

	report, err := te.HealthScan(context.Background())
	require.NoError(t, err)

	assert.False(t, report.OK)
	assert.Equal(t, 2, report.Running)
	assert.Equal(t, 1, report.Failing)
	require.Len(t, report.Findings, 1)

	finding := report.Findings[0]
	assert.Equal(t, "autopilot", finding.Container)
	assert.Equal(t, "exited", finding.Status)
	assert.Contains(t, finding.Finding, "no config")

	var values []string
	for _, s := range finding.Solutions {
		values = append(values, s.Value)
	}
	assert.Contains(t, values, "ai_analyze::autopilot")
}

func TestHealthScan_UnhealthyCountsAsFailing(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{
		{Name: "web", Status: docker.ContainerStatusRunning, Health: "unhealthy"},
	}
	te.runtime.logs["web"] = "health check failed\n"

	report, err := te.HealthScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failing)
}

func TestPostLaunchSweep_AllHealthy(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{running("web"), running("db")}

	te.postLaunchSweep(context.Background(), domain.SrcCLI)

	texts := te.messageTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "All 2 containers are running")
}

func TestPostLaunchSweep_ReportsFailing(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{running("web"), exited("autopilot")}
	te.runtime.logs["autopilot"] = "Bind for 0.0.0.0:6080 failed: port is already allocated\n"

	te.postLaunchSweep(context.Background(), domain.SrcCLI)

	health := te.eventsOfType(domain.EventContainerHealth)
	require.Len(t, health, 1)
	assert.Equal(t, "autopilot", health[0].Data["container"])

	texts := te.messageTexts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "autopilot is exited")
	assert.Contains(t, texts[0], "6080")

	values := te.buttonValues()
	assert.Contains(t, values, "fix_container::autopilot")
	assert.Contains(t, values, "restart_container::autopilot")
	assert.Contains(t, values, "settings")
}

func TestDispatch_LaunchAllRunsAndSweeps(t *testing.T) {
	te := newTestEngine(t, func(opts *Options) {
		opts.LaunchCommand = []string{"sh", "-c", "echo launching"}
	})
	te.runtime.containers = []docker.ContainerInfo{running("web")}

	te.Dispatch(context.Background(), "launch_all", nil, domain.SrcCLI)

	require.Eventually(t, func() bool {
		return len(te.eventsOfType(domain.EventDeployCompleted)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, text := range te.messageTexts() {
			if text == "✅ **All 1 containers are running.**" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, te.eventsOfType(domain.EventDeployStarted))
	assert.NotEmpty(t, te.eventsOfType(domain.EventLogLine))
}

func TestDispatch_LaunchAllNoCommand(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "launch_all", nil, domain.SrcCLI)
	assert.Contains(t, te.messageTexts()[0], "No launch command configured")
}

func TestLastLines(t *testing.T) {
	blob := "one\ntwo\n\nthree\nfour\n"
	assert.Equal(t, "three\nfour", lastLines(blob, 2))
	assert.Equal(t, "one\ntwo\nthree\nfour", lastLines(blob, 10))
	assert.Equal(t, "", lastLines("", 3))
}

func TestAnalyzeContainerLog_FetchFailure(t *testing.T) {
	te := newTestEngine(t, nil)

	finding, buttons := te.AnalyzeContainerLog(context.Background(), "ghost")
	assert.Contains(t, finding, "Could not read logs for ghost")
	assert.Empty(t, buttons)
}
