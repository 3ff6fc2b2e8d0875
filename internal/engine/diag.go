package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dockfra/dockfra/internal/core/compose"
	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/core/pattern"
	"github.com/dockfra/dockfra/internal/shell/docker"
	"github.com/dockfra/dockfra/internal/shell/envfile"
	"github.com/dockfra/dockfra/internal/shell/llm"
	"github.com/dockfra/dockfra/internal/shell/sshexec"
	"github.com/google/uuid"
)

// DefaultSweepDelay is how long the engine waits after a launch before
// checking container health; containers need a moment to crash.
const DefaultSweepDelay = 8 * time.Second

// SSHRunner is the remote execution surface the engine uses for the
// ssh_info and run_ssh_cmd actions.
type SSHRunner interface {
	Target() string
	Run(ctx context.Context, command string) (*sshexec.Result, error)
}

// Options configures a DiagnosticEngine. Runtime, SSH and Stack may be nil;
// the corresponding actions degrade to explanatory messages.
type Options struct {
	Runtime       docker.Runtime
	Tailer        docker.LogSource
	Env           *envfile.Editor
	LLM           llm.Client
	SSH           SSHRunner
	Stack         *compose.StackInfo
	LaunchCommand []string
	SweepDelay    time.Duration
	Logger        *slog.Logger
}

// DiagnosticEngine is the orchestrator: it owns the bus, the runner and the
// background workers, and turns inbound actions into event streams.
type DiagnosticEngine struct {
	bus        *Bus
	runner     *Runner
	matcher    *pattern.Matcher
	buffer     *LogBuffer
	supervisor *Supervisor
	logger     *slog.Logger

	runtime docker.Runtime
	tailer  docker.LogSource
	env     *envfile.Editor
	llm     llm.Client
	ssh     SSHRunner
	stack   *compose.StackInfo

	launchCommand []string
	sweepDelay    time.Duration
}

// New assembles the engine around an open store.
func New(ctx context.Context, store *Store, opts Options) *DiagnosticEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var restartTargets []string
	if opts.Stack != nil {
		restartTargets = opts.Stack.Services
	}
	matcher := pattern.NewMatcher(pattern.Config{RestartTargets: restartTargets})

	bus := NewBus(store, logger)
	buffer := NewLogBuffer(DefaultLogBufferSize)

	aiClient := opts.LLM
	if aiClient == nil {
		aiClient = llm.Noop{}
	}

	sweepDelay := opts.SweepDelay
	if sweepDelay == 0 {
		sweepDelay = DefaultSweepDelay
	}

	return &DiagnosticEngine{
		bus:           bus,
		runner:        NewRunner(bus, matcher, buffer, logger),
		matcher:       matcher,
		buffer:        buffer,
		supervisor:    NewSupervisor(ctx, logger),
		logger:        logger.With("component", "diagnostic_engine"),
		runtime:       opts.Runtime,
		tailer:        opts.Tailer,
		env:           opts.Env,
		llm:           aiClient,
		ssh:           opts.SSH,
		stack:         opts.Stack,
		launchCommand: opts.LaunchCommand,
		sweepDelay:    sweepDelay,
	}
}

// Bus exposes the event bus for transports and tests.
func (e *DiagnosticEngine) Bus() *Bus {
	return e.bus
}

// Buffer exposes the raw log tail ring.
func (e *DiagnosticEngine) Buffer() *LogBuffer {
	return e.buffer
}

// Start emits the startup event and launches the periodic health monitor.
func (e *DiagnosticEngine) Start(monitorInterval time.Duration) {
	e.bus.Emit(context.Background(), domain.EventSystemStarted, nil, domain.SrcSystem)
	if e.runtime != nil && monitorInterval > 0 {
		e.supervisor.Go("health_monitor", func(ctx context.Context) {
			e.monitorLoop(ctx, monitorInterval)
		})
	}
}

// Stop emits the shutdown event and waits for workers.
func (e *DiagnosticEngine) Stop(timeout time.Duration) {
	e.bus.Emit(context.Background(), domain.EventSystemStopped, nil, domain.SrcSystem)
	e.supervisor.Shutdown(timeout)
}

// =============================================================================
// Emit Helpers
// =============================================================================

// say emits one bot message.
func (e *DiagnosticEngine) say(ctx context.Context, src, text string) {
	e.bus.Emit(ctx, domain.EventMessage, map[string]any{
		"id":   uuid.NewString(),
		"role": domain.RoleBot,
		"text": text,
	}, src)
}

// sayUser records an operator-authored message (LLM queries echo the
// question before the answer).
func (e *DiagnosticEngine) sayUser(ctx context.Context, src, text string) {
	e.bus.Emit(ctx, domain.EventMessage, map[string]any{
		"id":   uuid.NewString(),
		"role": domain.RoleUser,
		"text": text,
	}, src)
}

// show fans out widgets as individual widget events.
func (e *DiagnosticEngine) show(ctx context.Context, src string, widgets ...domain.Widget) {
	emitWidgets(ctx, e.bus, widgets, src, e.logger)
}
