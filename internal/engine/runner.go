package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/core/pattern"
	"github.com/google/uuid"
)

// Runner executes a subprocess and streams its merged output through the
// engine: every surviving line becomes a log_line event, every line is fed
// to the matcher, and every match becomes a message event with widgets.
type Runner struct {
	bus     *Bus
	matcher *pattern.Matcher
	buffer  *LogBuffer
	logger  *slog.Logger
	seq     atomic.Int64
}

// NewRunner wires a runner to the bus, the matcher and the tail buffer.
func NewRunner(bus *Bus, matcher *pattern.Matcher, buffer *LogBuffer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		bus:     bus,
		matcher: matcher,
		buffer:  buffer,
		logger:  logger.With("component", "runner"),
	}
}

// RunResult is what a completed (or cancelled) subprocess run amounts to.
type RunResult struct {
	ExitCode     int
	Output       string
	HadAutoFixes bool
}

// Stream runs the command and blocks until it exits or ctx is cancelled.
// stdout and stderr are merged into a single ordered stream. Cancellation
// sends SIGTERM and drains the remaining output before returning.
func (r *Runner) Stream(ctx context.Context, src string, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return RunResult{ExitCode: -1}, fmt.Errorf("start %s: %w", name, err)
	}
	r.logger.Info("subprocess started", "cmd", name, "args", args)

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitCh <- err
	}()

	result := r.consume(ctx, pr, src)
	<-waitCh

	result.ExitCode = cmd.ProcessState.ExitCode()

	if ctx.Err() != nil {
		r.bus.Emit(ctx, domain.EventMessage, map[string]any{
			"id":   uuid.NewString(),
			"text": "🟡 **Run cancelled**",
			"role": domain.RoleBot,
		}, src)
		r.logger.Info("subprocess cancelled", "cmd", name)
		return result, ctx.Err()
	}

	r.logger.Info("subprocess finished", "cmd", name, "exit_code", result.ExitCode)
	return result, nil
}

// consume reads merged output line by line until the pipe closes.
func (r *Runner) consume(ctx context.Context, pr io.Reader, src string) RunResult {
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var output strings.Builder
	filter := &bannerFilter{}
	fired := pattern.NewFiredSet()
	result := RunResult{}

	for scanner.Scan() {
		line := scanner.Text()
		if filter.drop(line) {
			continue
		}
		r.buffer.Add(line)
		output.WriteString(line)
		output.WriteByte('\n')

		r.bus.Emit(ctx, domain.EventLogLine, map[string]any{
			"id":   fmt.Sprintf("log-%d", r.seq.Add(1)),
			"text": line,
		}, src)

		if res := r.matcher.MatchLine(line, fired); res != nil {
			result.HadAutoFixes = true
			r.emitFinding(ctx, res, src)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("subprocess output truncated", "error", err)
	}

	result.Output = output.String()
	return result
}

// emitFinding turns one matcher verdict into a chat message followed by its
// widget events.
func (r *Runner) emitFinding(ctx context.Context, res *pattern.MatchResult, src string) {
	icon := "🟡"
	if res.Severity == pattern.SeverityError {
		icon = "🔴"
	}
	r.bus.Emit(ctx, domain.EventMessage, map[string]any{
		"id":   uuid.NewString(),
		"text": icon + " **" + res.Message + "**",
		"role": domain.RoleBot,
	}, src)
	emitWidgets(ctx, r.bus, res.Widgets, src, r.logger)
}

// emitWidgets fans each widget out as its own widget event, skipping any
// that fail to encode.
func emitWidgets(ctx context.Context, bus *Bus, widgets []domain.Widget, src string, logger *slog.Logger) {
	for _, w := range widgets {
		data, err := domain.EncodeWidget(w)
		if err != nil {
			logger.Error("failed to encode widget", "type", w.WidgetType(), "error", err)
			continue
		}
		bus.Emit(ctx, domain.EventWidget, data, src)
	}
}

// =============================================================================
// Banner Filter
// =============================================================================

// bannerFilter suppresses decorative box-drawing banners printed by launch
// scripts. Stateful: everything between an opening and a closing border is
// dropped, as are stray border fragments outside a banner.
type bannerFilter struct {
	inBanner bool
}

func (f *bannerFilter) drop(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	first, _ := utf8.DecodeRuneInString(trimmed)
	switch first {
	case '╔', '┌':
		f.inBanner = true
		return true
	case '╚', '└':
		f.inBanner = false
		return true
	}
	if f.inBanner {
		return true
	}
	switch first {
	case '║', '╠', '╣', '│', '├', '┤':
		return true
	}
	return isBoxDrawingOnly(trimmed)
}

// isBoxDrawingOnly reports whether the line is pure banner chrome.
func isBoxDrawingOnly(s string) bool {
	for _, r := range s {
		if r >= 0x2500 && r <= 0x257F {
			continue
		}
		if r == ' ' || r == '\t' {
			continue
		}
		return false
	}
	return true
}
