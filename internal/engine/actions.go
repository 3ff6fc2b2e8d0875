package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/core/pattern"
	"github.com/dockfra/dockfra/internal/shell/llm"
)

const (
	suggestedCmdTimeout = 30 * time.Second
	restartTimeout      = 10 * time.Second
)

const analysisSystemPrompt = "You are a diagnostic assistant for a Docker Compose stack. " +
	"Given container logs or an operator question, explain the most likely root cause " +
	"and suggest concrete shell commands or .env changes to fix it. Be brief; answer in markdown."

// Dispatch parses and executes one inbound action. Synchronous verbs emit
// before returning so a request-local collector sees everything; long
// running verbs acknowledge immediately and finish on a supervised worker.
func (e *DiagnosticEngine) Dispatch(ctx context.Context, raw string, form map[string]string, src string) {
	action := domain.ParseAction(raw, form)
	e.logger.Info("action dispatched", "verb", action.Verb, "src", src)

	switch action.Verb {
	case domain.VerbStatus:
		e.handleStatus(ctx, src)
	case domain.VerbLaunchAll:
		e.handleLaunchAll(ctx, src)
	case domain.VerbSettings:
		e.handleSettings(ctx, action, src)
	case domain.VerbLogs, domain.VerbShowLogs:
		e.handleLogs(ctx, action, src)
	case domain.VerbFixContainer:
		e.handleFixContainer(ctx, action, src)
	case domain.VerbRestartContainer:
		e.handleRestartContainer(ctx, action, src)
	case domain.VerbDiagPort:
		e.handleDiagPort(ctx, action, src)
	case domain.VerbAIAnalyze:
		e.handleAIAnalyze(ctx, action, src)
	case domain.VerbSaveEnvVar:
		e.handleSaveEnvVar(ctx, action, src)
	case domain.VerbSaveEnvVars:
		e.handleSaveEnvVars(ctx, action, src)
	case domain.VerbRunSuggestedCmd:
		e.handleRunSuggestedCmd(ctx, action, src)
	case domain.VerbFixNetworkOverlap:
		e.handleFixNetworkOverlap(ctx, action, src)
	case domain.VerbFixAcmeStorage:
		e.handleFixAcmeStorage(ctx, action, src)
	case domain.VerbSSHInfo:
		e.handleSSHInfo(ctx, src)
	case domain.VerbRunSSHCmd:
		e.handleRunSSHCmd(ctx, action, src)
	case domain.VerbLLMQuery:
		e.handleLLMQuery(ctx, action, src)
	}
}

// =============================================================================
// Status & Launch
// =============================================================================

func (e *DiagnosticEngine) handleStatus(ctx context.Context, src string) {
	report, err := e.HealthScan(ctx)
	if err != nil {
		e.say(ctx, src, fmt.Sprintf("🟡 **Container runtime unavailable:** %v", err))
		return
	}

	if report.OK {
		e.say(ctx, src, fmt.Sprintf("✅ **%d containers running, all healthy.**", report.Running))
	} else {
		e.say(ctx, src, fmt.Sprintf("🔴 **%d running, %d failing.**", report.Running, report.Failing))
	}

	items := make([]domain.StatusItem, 0, len(report.Containers))
	for _, c := range report.Containers {
		items = append(items, domain.StatusItem{
			Name:   c.Name,
			OK:     c.IsHealthy(),
			Detail: string(c.Status),
		})
	}
	if len(items) > 0 {
		e.show(ctx, src, domain.StatusRow{Items: items})
	}
	for _, finding := range report.Findings {
		e.say(ctx, src, fmt.Sprintf("🔴 **%s is %s**\n%s", finding.Container, finding.Status, finding.Finding))
	}
}

func (e *DiagnosticEngine) handleLaunchAll(ctx context.Context, src string) {
	if len(e.launchCommand) == 0 {
		e.say(ctx, src, "🟡 **No launch command configured.**")
		return
	}

	e.say(ctx, src, "🚀 **Launching stack...**")
	e.supervisor.Go("launch", func(ctx context.Context) {
		e.bus.Emit(ctx, domain.EventDeployStarted, map[string]any{"command": strings.Join(e.launchCommand, " ")}, src)

		result, err := e.runner.Stream(ctx, src, e.launchCommand[0], e.launchCommand[1:]...)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.bus.Emit(ctx, domain.EventDeployFailed, map[string]any{"error": err.Error()}, src)
			e.say(ctx, src, fmt.Sprintf("🔴 **Launch failed to start:** %v", err))
			return
		}

		if result.ExitCode == 0 {
			e.bus.Emit(ctx, domain.EventDeployCompleted, map[string]any{"exit_code": 0}, src)
			e.say(ctx, src, "✅ **Launch finished.** Checking container health...")
		} else {
			e.bus.Emit(ctx, domain.EventDeployFailed, map[string]any{"exit_code": result.ExitCode}, src)
			if !result.HadAutoFixes {
				e.say(ctx, src, fmt.Sprintf("🔴 **Launch exited with code %d.**", result.ExitCode))
			}
		}

		e.postLaunchSweep(ctx, src)
	})
}

// =============================================================================
// Settings & Environment
// =============================================================================

func (e *DiagnosticEngine) handleSettings(ctx context.Context, action domain.Action, src string) {
	group := action.Arg(0)

	var names []string
	if e.stack != nil {
		for _, name := range e.stack.EnvVars {
			if group == "" || pattern.SettingsGroupFor(name) == group {
				names = append(names, name)
			}
		}
	}

	if len(names) == 0 {
		e.say(ctx, src, "🟡 **No stack settings found.** Edit the .env file directly or relaunch with a compose file.")
		return
	}

	fields := make([]domain.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, pattern.InferField(name))
	}

	title := "Stack settings"
	if group != "" {
		title = "Settings: " + group
	}
	e.say(ctx, src, "⚙️ **"+title+"**")
	e.show(ctx, src, domain.ConfigPrompt{
		Title:         title,
		Desc:          "Values are written to the stack .env file.",
		Fields:        fields,
		SettingsGroup: group,
		Action:        "launch_all",
		SaveAction:    "save_env_vars",
	})
}

func (e *DiagnosticEngine) handleSaveEnvVar(ctx context.Context, action domain.Action, src string) {
	name := action.Arg(0)
	if name == "" || !pattern.LooksLikeEnvVar(name) {
		e.say(ctx, src, "🟡 **No variable name given.**")
		return
	}
	value, ok := action.Form[name]
	if !ok {
		value = action.Form["value"]
	}
	if e.env == nil {
		e.say(ctx, src, "🟡 **No .env file configured.**")
		return
	}
	if err := e.env.Set(name, value); err != nil {
		e.say(ctx, src, fmt.Sprintf("🔴 **Could not save %s:** %v", name, err))
		return
	}
	e.bus.Emit(ctx, domain.EventConfigFixed, map[string]any{"variables": []string{name}}, src)
	e.say(ctx, src, fmt.Sprintf("✅ **Saved %s.**", name))
	e.show(ctx, src, domain.Buttons{Items: []domain.Button{
		{Label: "Relaunch stack", Value: "launch_all"},
	}})
}

func (e *DiagnosticEngine) handleSaveEnvVars(ctx context.Context, action domain.Action, src string) {
	if e.env == nil {
		e.say(ctx, src, "🟡 **No .env file configured.**")
		return
	}

	values := make(map[string]string)
	var names []string
	for k, v := range action.Form {
		if !pattern.LooksLikeEnvVar(k) {
			continue
		}
		values[k] = v
		names = append(names, k)
	}
	if len(values) == 0 {
		e.say(ctx, src, "🟡 **Nothing to save.**")
		return
	}

	if err := e.env.SetAll(values); err != nil {
		e.say(ctx, src, fmt.Sprintf("🔴 **Could not save settings:** %v", err))
		return
	}
	e.bus.Emit(ctx, domain.EventConfigFixed, map[string]any{"variables": names}, src)
	e.say(ctx, src, fmt.Sprintf("✅ **Saved %d settings.**", len(values)))
	e.show(ctx, src, domain.Buttons{Items: []domain.Button{
		{Label: "Relaunch stack", Value: "launch_all"},
	}})
}

// =============================================================================
// Logs & Container Repair
// =============================================================================

func (e *DiagnosticEngine) handleLogs(ctx context.Context, action domain.Action, src string) {
	name := action.Arg(0)
	if name == "" {
		entries := e.buffer.Tail(50)
		if len(entries) == 0 {
			e.say(ctx, src, "🟡 **No output captured yet.**")
			return
		}
		lines := make([]string, len(entries))
		for i, entry := range entries {
			lines[i] = entry.Text
		}
		e.show(ctx, src, domain.Code{Text: strings.Join(lines, "\n")})
		return
	}

	lines := tailLines
	if action.Verb == domain.VerbShowLogs {
		lines = 200
	}
	blob, err := e.fetchTail(ctx, name, lines)
	if err != nil {
		e.say(ctx, src, fmt.Sprintf("🔴 **Could not read logs for %s:** %v", name, err))
		return
	}
	e.say(ctx, src, fmt.Sprintf("📜 **Last %d lines of %s**", lines, name))
	e.show(ctx, src, domain.Code{Text: strings.TrimRight(blob, "\n")})
}

func (e *DiagnosticEngine) handleFixContainer(ctx context.Context, action domain.Action, src string) {
	name := action.Arg(0)
	if name == "" {
		e.say(ctx, src, "🟡 **No container name given.**")
		return
	}

	finding, buttons := e.AnalyzeContainerLog(ctx, name)
	e.say(ctx, src, fmt.Sprintf("🔎 **Diagnosis for %s**\n%s", name, finding))
	if len(buttons) > 0 {
		e.show(ctx, src, domain.Buttons{Items: buttons})
	}
}

func (e *DiagnosticEngine) handleRestartContainer(ctx context.Context, action domain.Action, src string) {
	name := action.Arg(0)
	if name == "" {
		e.say(ctx, src, "🟡 **No container name given.**")
		return
	}
	if e.runtime == nil {
		e.say(ctx, src, "🟡 **Container runtime unavailable.**")
		return
	}

	timeout := restartTimeout
	if err := e.runtime.RestartContainer(ctx, name, &timeout); err != nil {
		e.say(ctx, src, fmt.Sprintf("🔴 **Could not restart %s:** %v", name, err))
		return
	}
	e.bus.Emit(ctx, domain.EventContainerStarted, map[string]any{"container": name}, src)
	e.say(ctx, src, fmt.Sprintf("♻️ **Restarted %s.**", name))
}

// =============================================================================
// Port Diagnosis
// =============================================================================

func (e *DiagnosticEngine) handleDiagPort(ctx context.Context, action domain.Action, src string) {
	portStr := action.Arg(0)
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		e.say(ctx, src, "🟡 **No valid port given.**")
		return
	}

	if e.runtime != nil {
		containers, err := e.runtime.ListContainers(ctx, true)
		if err == nil {
			for _, c := range containers {
				for _, p := range c.Ports {
					if p.HostPort == port {
						e.say(ctx, src, fmt.Sprintf(
							"🔎 **Port %d is published by container %s** (%s). Stop or restart it to free the port.",
							port, c.Name, c.Image))
						e.show(ctx, src, domain.Buttons{Items: []domain.Button{
							{Label: "Restart container " + c.Name, Value: "restart_container::" + c.Name},
							{Label: "Show logs", Value: "show_logs::" + c.Name},
						}})
						return
					}
				}
			}
		}
	}

	// No managed container publishes it; probably a host process.
	cmd := fmt.Sprintf("lsof -nP -iTCP:%d -sTCP:LISTEN", port)
	e.say(ctx, src, fmt.Sprintf(
		"🔎 **No managed container publishes port %d.** A host process is probably holding it; run:", port))
	e.show(ctx, src,
		domain.Code{Text: cmd},
		domain.Buttons{Items: []domain.Button{
			{Label: "Run it for me", Value: "run_suggested_cmd::" + cmd},
		}},
	)
}

// =============================================================================
// Suggested Commands
// =============================================================================

func (e *DiagnosticEngine) handleRunSuggestedCmd(ctx context.Context, action domain.Action, src string) {
	cmd := action.Form["cmd"]
	if cmd == "" {
		cmd = strings.Join(action.Args, "::")
	}
	if strings.TrimSpace(cmd) == "" {
		e.say(ctx, src, "🟡 **No command given.**")
		return
	}

	e.say(ctx, src, fmt.Sprintf("▶️ **Running** `%s`", cmd))
	e.supervisor.Go("suggested_cmd", func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, suggestedCmdTimeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, "sh", "-c", cmd).CombinedOutput()
		text := strings.TrimRight(string(out), "\n")
		if err == nil {
			if text == "" {
				text = "(no output)"
			}
			e.show(ctx, src, domain.Code{Text: text})
			return
		}

		// The shell path failed; one repair is known well enough to retry
		// through the SDK.
		if name, ok := strings.CutPrefix(cmd, "docker restart "); ok && e.runtime != nil {
			timeout := restartTimeout
			if sdkErr := e.runtime.RestartContainer(ctx, strings.TrimSpace(name), &timeout); sdkErr == nil {
				e.say(ctx, src, fmt.Sprintf("♻️ **Restarted %s.**", strings.TrimSpace(name)))
				return
			}
		}

		if text != "" {
			e.show(ctx, src, domain.Code{Text: text})
		}
		e.say(ctx, src, fmt.Sprintf("🔴 **Command failed:** %v", err))
	})
}

// =============================================================================
// Network & ACME Fixes
// =============================================================================

func (e *DiagnosticEngine) handleFixNetworkOverlap(ctx context.Context, action domain.Action, src string) {
	if e.runtime == nil {
		e.say(ctx, src, "🟡 **Container runtime unavailable.**")
		return
	}

	name := action.Arg(0)
	if name != "" {
		if err := e.runtime.RemoveNetwork(ctx, name); err != nil {
			e.say(ctx, src, fmt.Sprintf("🔴 **Could not remove network %s:** %v", name, err))
			return
		}
		e.bus.Emit(ctx, domain.EventConfigFixed, map[string]any{"network": name}, src)
		e.say(ctx, src, fmt.Sprintf("✅ **Removed network %s.** Relaunch to recreate it.", name))
	} else {
		removed, err := e.runtime.PruneNetworks(ctx)
		if err != nil {
			e.say(ctx, src, fmt.Sprintf("🔴 **Network prune failed:** %v", err))
			return
		}
		e.bus.Emit(ctx, domain.EventConfigFixed, map[string]any{"networks_pruned": removed}, src)
		e.say(ctx, src, fmt.Sprintf("✅ **Removed %d unused networks.**", len(removed)))
	}
	e.show(ctx, src, domain.Buttons{Items: []domain.Button{
		{Label: "Relaunch stack", Value: "launch_all"},
	}})
}

func (e *DiagnosticEngine) handleFixAcmeStorage(ctx context.Context, action domain.Action, src string) {
	value := action.Form["ACME_STORAGE"]
	if value == "" {
		value = "letsencrypt/acme.json"
	}

	if e.env != nil {
		if err := e.env.Set("ACME_STORAGE", value); err != nil {
			e.say(ctx, src, fmt.Sprintf("🔴 **Could not save ACME_STORAGE:** %v", err))
			return
		}
		e.bus.Emit(ctx, domain.EventConfigFixed, map[string]any{"variables": []string{"ACME_STORAGE"}}, src)
	}

	cmd := fmt.Sprintf("mkdir -p %s && touch %s && chmod 600 %s",
		pathDir(value), value, value)
	e.say(ctx, src, "✅ **ACME storage configured.** The certificate file needs 600 permissions:")
	e.show(ctx, src,
		domain.Code{Text: cmd},
		domain.Buttons{Items: []domain.Button{
			{Label: "Run it for me", Value: "run_suggested_cmd::" + cmd},
			{Label: "Relaunch stack", Value: "launch_all"},
		}},
	)
}

// pathDir is filepath.Dir without pulling path separators into the command.
func pathDir(p string) string {
	if idx := strings.LastIndex(p, "/"); idx > 0 {
		return p[:idx]
	}
	return "."
}

// =============================================================================
// SSH
// =============================================================================

func (e *DiagnosticEngine) handleSSHInfo(ctx context.Context, src string) {
	if e.ssh == nil {
		e.say(ctx, src, "🟡 **SSH is not configured.** Set the SSH host, user and key path in the server config.")
		return
	}
	e.say(ctx, src, "🔐 **Remote host:**")
	e.show(ctx, src, domain.Code{Text: "ssh " + e.ssh.Target()})
}

func (e *DiagnosticEngine) handleRunSSHCmd(ctx context.Context, action domain.Action, src string) {
	if e.ssh == nil {
		e.say(ctx, src, "🟡 **SSH is not configured.**")
		return
	}
	cmd := action.Form["cmd"]
	if cmd == "" {
		cmd = strings.Join(action.Args, "::")
	}
	if strings.TrimSpace(cmd) == "" {
		e.say(ctx, src, "🟡 **No command given.**")
		return
	}

	e.say(ctx, src, fmt.Sprintf("▶️ **Running on %s:** `%s`", e.ssh.Target(), cmd))
	e.supervisor.Go("ssh_cmd", func(ctx context.Context) {
		result, err := e.ssh.Run(ctx, cmd)
		if err != nil {
			e.say(ctx, src, fmt.Sprintf("🔴 **SSH command failed:** %v", err))
			return
		}
		text := strings.TrimRight(result.Stdout, "\n")
		if result.Stderr != "" {
			text += "\n" + strings.TrimRight(result.Stderr, "\n")
		}
		if strings.TrimSpace(text) == "" {
			text = "(no output)"
		}
		e.show(ctx, src, domain.Code{Text: text})
		if result.ExitCode != 0 {
			e.say(ctx, src, fmt.Sprintf("🟡 **Exited with code %d.**", result.ExitCode))
		}
	})
}

// =============================================================================
// AI
// =============================================================================

func (e *DiagnosticEngine) handleAIAnalyze(ctx context.Context, action domain.Action, src string) {
	name := action.Arg(0)
	if name == "" {
		e.say(ctx, src, "🟡 **No container name given.**")
		return
	}

	e.say(ctx, src, fmt.Sprintf("🤖 **Analyzing %s...**", name))
	e.supervisor.Go("ai_analyze", func(ctx context.Context) {
		blob, err := e.fetchTail(ctx, name, tailLines)
		if err != nil {
			e.say(ctx, src, fmt.Sprintf("🔴 **Could not read logs for %s:** %v", name, err))
			return
		}

		prompt := fmt.Sprintf("Container %q recent logs:\n```\n%s\n```\nDiagnose the failure.", name, blob)
		e.complete(ctx, src, prompt)
	})
}

func (e *DiagnosticEngine) handleLLMQuery(ctx context.Context, action domain.Action, src string) {
	text := strings.TrimSpace(action.Arg(0))
	if text == "" {
		return
	}
	e.sayUser(ctx, src, text)
	e.supervisor.Go("llm_query", func(ctx context.Context) {
		e.complete(ctx, src, text)
	})
}

// complete runs one LLM exchange and converts every failure mode into a
// message.
func (e *DiagnosticEngine) complete(ctx context.Context, src, prompt string) {
	reply, err := e.llm.Complete(ctx, analysisSystemPrompt, prompt)
	switch {
	case err == nil:
		e.say(ctx, src, reply)
	case errors.Is(err, llm.ErrDisabled):
		e.say(ctx, src, "🟡 **AI analysis needs an API key.**")
		e.show(ctx, src, domain.ConfigPrompt{
			Title:         "Enable AI analysis",
			Desc:          "Set an OpenAI-compatible API key.",
			Fields:        []domain.Field{{Name: "OPENAI_API_KEY", Label: "OPENAI_API_KEY", Type: "password"}},
			SettingsGroup: "ai",
			SaveAction:    "save_env_vars",
		})
	case errors.Is(err, context.DeadlineExceeded):
		e.say(ctx, src, "🟡 **AI analysis timed out.**")
	default:
		e.say(ctx, src, fmt.Sprintf("🔴 **AI analysis failed:** %v", err))
	}
}
