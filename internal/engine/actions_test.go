package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dockfra/dockfra/internal/core/compose"
	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/shell/docker"
	"github.com/dockfra/dockfra/internal/shell/envfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRuntime struct {
	containers []docker.ContainerInfo
	logs       map[string]string
	listErr    error

	restarted       []string
	removedNetworks []string
	pruned          bool
}

func (f *fakeRuntime) ListContainers(ctx context.Context, all bool) ([]docker.ContainerInfo, error) {
	return f.containers, f.listErr
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, nameOrID string) (*docker.ContainerInfo, error) {
	for _, c := range f.containers {
		if c.Name == nameOrID {
			return &c, nil
		}
	}
	return nil, docker.ErrContainerNotFound
}

func (f *fakeRuntime) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	if out, ok := f.logs[nameOrID]; ok {
		return out, nil
	}
	return "", docker.ErrContainerNotFound
}

func (f *fakeRuntime) RestartContainer(ctx context.Context, nameOrID string, timeout *time.Duration) error {
	f.restarted = append(f.restarted, nameOrID)
	return nil
}

func (f *fakeRuntime) RemoveNetwork(ctx context.Context, nameOrID string) error {
	f.removedNetworks = append(f.removedNetworks, nameOrID)
	return nil
}

func (f *fakeRuntime) PruneNetworks(ctx context.Context) ([]string, error) {
	f.pruned = true
	return []string{"old-net"}, nil
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }
func (f *fakeRuntime) Close() error                   { return nil }

type failingTailer struct{}

func (failingTailer) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	return "", errors.New("cli not available")
}

// =============================================================================
// Harness
// =============================================================================

// eventSink is a thread-safe event recorder; workers emit from their own
// goroutines.
type eventSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *eventSink) add(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type testEngine struct {
	*DiagnosticEngine
	runtime *fakeRuntime
	env     *envfile.Editor
	sink    *eventSink
}

func newTestEngine(t *testing.T, mutate func(*Options)) *testEngine {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "events.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runtime := &fakeRuntime{logs: map[string]string{}}
	env := envfile.NewEditor(filepath.Join(t.TempDir(), ".env"))

	opts := Options{
		Runtime:    runtime,
		Tailer:     docker.NewTailer(failingTailer{}, runtime),
		Env:        env,
		SweepDelay: 10 * time.Millisecond,
		Logger:     slog.Default(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	e := New(context.Background(), store, opts)
	t.Cleanup(func() { e.supervisor.Shutdown(5 * time.Second) })

	sink := &eventSink{}
	e.bus.SubscribeAll(sink.add)
	return &testEngine{DiagnosticEngine: e, runtime: runtime, env: env, sink: sink}
}

func (te *testEngine) eventsOfType(kind string) []domain.Event {
	var out []domain.Event
	for _, ev := range te.sink.snapshot() {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (te *testEngine) messageTexts() []string {
	var texts []string
	for _, ev := range te.eventsOfType(domain.EventMessage) {
		texts = append(texts, ev.Data["text"].(string))
	}
	return texts
}

func (te *testEngine) widgetOfType(t *testing.T, kind string) map[string]any {
	t.Helper()
	for _, ev := range te.eventsOfType(domain.EventWidget) {
		if ev.Data["type"] == kind {
			return ev.Data
		}
	}
	t.Fatalf("no %s widget emitted", kind)
	return nil
}

func (te *testEngine) buttonValues() []string {
	var values []string
	for _, ev := range te.eventsOfType(domain.EventWidget) {
		if ev.Data["type"] != domain.WidgetButtons {
			continue
		}
		for _, item := range ev.Data["items"].([]any) {
			values = append(values, item.(map[string]any)["value"].(string))
		}
	}
	return values
}

func running(name string) docker.ContainerInfo {
	return docker.ContainerInfo{Name: name, Status: docker.ContainerStatusRunning}
}

func exited(name string) docker.ContainerInfo {
	return docker.ContainerInfo{Name: name, Status: docker.ContainerStatusExited, ExitCode: 1}
}

// =============================================================================
// Tests
// =============================================================================

func TestDispatch_StatusAllHealthy(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{running("web"), running("db")}

	te.Dispatch(context.Background(), "status", nil, domain.SrcCLI)

	require.NotEmpty(t, te.messageTexts())
	assert.Contains(t, te.messageTexts()[0], "✅")
	assert.Contains(t, te.messageTexts()[0], "2 containers")

	row := te.widgetOfType(t, domain.WidgetStatusRow)
	assert.Len(t, row["items"], 2)
}

func TestDispatch_StatusWithFailingContainer(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{running("web"), exited("autopilot")}
	te.runtime.logs["autopilot"] = "panic: missing config\ngoodbye\n"

	te.Dispatch(context.Background(), "status", nil, domain.SrcWeb)

	texts := te.messageTexts()
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Contains(t, texts[0], "1 running, 1 failing")
	assert.Contains(t, texts[1], "autopilot")
}

func TestDispatch_SaveEnvVar(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "save_env_var::AUTOPILOT_INTERVAL",
		map[string]string{"AUTOPILOT_INTERVAL": "120"}, domain.SrcWeb)

	values, err := te.env.Values()
	require.NoError(t, err)
	assert.Equal(t, "120", values["AUTOPILOT_INTERVAL"])

	assert.Contains(t, te.messageTexts()[0], "Saved AUTOPILOT_INTERVAL")
	assert.NotEmpty(t, te.eventsOfType(domain.EventConfigFixed))
}

func TestDispatch_SaveEnvVarsFiltersNonVariables(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "save_env_vars", map[string]string{
		"DB_PASSWORD": "hunter2",
		"SMTP_HOST":   "mail.example.com",
		"csrf_token":  "junk",
	}, domain.SrcWeb)

	values, err := te.env.Values()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", values["DB_PASSWORD"])
	assert.Equal(t, "mail.example.com", values["SMTP_HOST"])
	assert.NotContains(t, values, "csrf_token")
}

func TestDispatch_FixContainerMatchedPattern(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.logs["web"] = "starting\nBind for 0.0.0.0:6080 failed: port is already allocated\n"

	te.Dispatch(context.Background(), "fix_container::web", nil, domain.SrcWeb)

	texts := te.messageTexts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "Diagnosis for web")
	assert.Contains(t, texts[0], "6080")

	values := te.buttonValues()
	assert.Contains(t, values, "diag_port::6080")
	assert.Contains(t, values, "ai_analyze::web")
}

func TestDispatch_FixContainerUnmatchedShowsTail(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.logs["web"] = "line1\nline2\nline3\nline4\nline5\nline6\nline7\n"

	te.Dispatch(context.Background(), "fix_container::web", nil, domain.SrcWeb)

	text := te.messageTexts()[0]
	assert.Contains(t, text, "line7")
	assert.NotContains(t, text, "line1")

	values := te.buttonValues()
	assert.Contains(t, values, "ai_analyze::web")
	assert.Contains(t, values, "show_logs::web")
}

func TestDispatch_RestartContainer(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "restart_container::autopilot", nil, domain.SrcWeb)

	assert.Equal(t, []string{"autopilot"}, te.runtime.restarted)
	assert.Contains(t, te.messageTexts()[0], "Restarted autopilot")

	started := te.eventsOfType(domain.EventContainerStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "autopilot", started[0].Data["container"])
}

func TestDispatch_DiagPortFindsPublisher(t *testing.T) {
	te := newTestEngine(t, nil)
	te.runtime.containers = []docker.ContainerInfo{
		{
			Name:   "web",
			Image:  "dockfra/web",
			Status: docker.ContainerStatusRunning,
			Ports:  []docker.PortBinding{{ContainerPort: 80, HostPort: 6080, Protocol: "tcp"}},
		},
	}

	te.Dispatch(context.Background(), "diag_port::6080", nil, domain.SrcWeb)

	assert.Contains(t, te.messageTexts()[0], "published by container web")
	assert.Contains(t, te.buttonValues(), "restart_container::web")
}

func TestDispatch_DiagPortHostProcess(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "diag_port::6080", nil, domain.SrcWeb)

	assert.Contains(t, te.messageTexts()[0], "host process")
	code := te.widgetOfType(t, domain.WidgetCode)
	assert.Contains(t, code["text"], "6080")
}

func TestDispatch_FixNetworkOverlapNamed(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "fix_network_overlap::dockfra-shared", nil, domain.SrcWeb)

	assert.Equal(t, []string{"dockfra-shared"}, te.runtime.removedNetworks)
	assert.False(t, te.runtime.pruned)
	assert.Contains(t, te.messageTexts()[0], "Removed network dockfra-shared")
}

func TestDispatch_FixNetworkOverlapPruneAll(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "fix_network_overlap::", nil, domain.SrcWeb)

	assert.True(t, te.runtime.pruned)
	assert.Empty(t, te.runtime.removedNetworks)
	assert.Contains(t, te.messageTexts()[0], "1 unused networks")
}

func TestDispatch_FixAcmeStorage(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "fix_acme_storage", nil, domain.SrcWeb)

	values, err := te.env.Values()
	require.NoError(t, err)
	assert.Equal(t, "letsencrypt/acme.json", values["ACME_STORAGE"])

	code := te.widgetOfType(t, domain.WidgetCode)
	assert.Contains(t, code["text"], "chmod 600")
}

func TestDispatch_SettingsFromStack(t *testing.T) {
	te := newTestEngine(t, func(opts *Options) {
		opts.Stack = &compose.StackInfo{
			Services: []string{"autopilot", "web"},
			EnvVars:  []string{"AUTOPILOT_INTERVAL", "DB_PASSWORD", "OPENAI_API_KEY"},
		}
	})

	te.Dispatch(context.Background(), "settings", nil, domain.SrcWeb)

	prompt := te.widgetOfType(t, domain.WidgetConfigPrompt)
	fields := prompt["fields"].([]any)
	require.Len(t, fields, 3)
	assert.Equal(t, "save_env_vars", prompt["save_action"])
}

func TestDispatch_SettingsGroupFilter(t *testing.T) {
	te := newTestEngine(t, func(opts *Options) {
		opts.Stack = &compose.StackInfo{
			EnvVars: []string{"AUTOPILOT_INTERVAL", "DB_PASSWORD", "OPENAI_API_KEY"},
		}
	})

	te.Dispatch(context.Background(), "settings::database", nil, domain.SrcWeb)

	prompt := te.widgetOfType(t, domain.WidgetConfigPrompt)
	fields := prompt["fields"].([]any)
	require.Len(t, fields, 1)
	field := fields[0].(map[string]any)
	assert.Equal(t, "DB_PASSWORD", field["name"])
	assert.Equal(t, "password", field["type"])
}

func TestDispatch_SSHNotConfigured(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "ssh_info::", nil, domain.SrcWeb)
	assert.Contains(t, te.messageTexts()[0], "SSH is not configured")
}

func TestDispatch_UnknownTokenRoutesToLLM(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Dispatch(context.Background(), "why is my stack down", nil, domain.SrcWeb)

	// The question is echoed as a user message synchronously.
	messages := te.eventsOfType(domain.EventMessage)
	require.NotEmpty(t, messages)
	assert.Equal(t, domain.RoleUser, messages[0].Data["role"])
	assert.Equal(t, "why is my stack down", messages[0].Data["text"])

	// The Noop backend answers with the API-key prompt on a worker.
	require.Eventually(t, func() bool {
		for _, ev := range te.eventsOfType(domain.EventWidget) {
			if ev.Data["type"] == domain.WidgetConfigPrompt {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
