package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/dockfra/dockfra/internal/core/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T) (*Runner, *Bus, *LogBuffer) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "events.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	bus := NewBus(store, slog.Default())
	buffer := NewLogBuffer(100)
	runner := NewRunner(bus, pattern.NewMatcher(pattern.Config{}), buffer, slog.Default())
	return runner, bus, buffer
}

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collectByType(bus *Bus, eventType string) *[]domain.Event {
	var events []domain.Event
	bus.Subscribe(eventType, func(ev domain.Event) {
		events = append(events, ev)
	})
	return &events
}

func TestRunner_StreamEmitsLogLines(t *testing.T) {
	runner, bus, buffer := newTestRunner(t)
	logLines := collectByType(bus, domain.EventLogLine)

	script := writeScript(t, "echo one\necho two 1>&2\necho three\n")
	result, err := runner.Stream(context.Background(), domain.SrcCLI, script)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.HadAutoFixes)

	// stderr is merged into the same ordered stream.
	require.Len(t, *logLines, 3)
	texts := make([]string, 0, 3)
	for _, ev := range *logLines {
		texts = append(texts, ev.Data["text"].(string))
		assert.Contains(t, ev.Data["id"], "log-")
	}
	assert.ElementsMatch(t, []string{"one", "two", "three"}, texts)

	// Raw lines land in the tail buffer too.
	assert.Equal(t, 3, buffer.Len())
	assert.Contains(t, result.Output, "one\n")
	assert.Contains(t, result.Output, "two\n")
}

func TestRunner_StreamExitCode(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	script := writeScript(t, "exit 3\n")
	result, err := runner.Stream(context.Background(), domain.SrcCLI, script)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunner_StreamStartFailure(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	result, err := runner.Stream(context.Background(), domain.SrcCLI, "/no/such/binary")
	require.Error(t, err)
	assert.Equal(t, -1, result.ExitCode)
}

func TestRunner_BannerIsStripped(t *testing.T) {
	runner, bus, buffer := newTestRunner(t)
	logLines := collectByType(bus, domain.EventLogLine)

	script := writeScript(t, strings.Join([]string{
		`echo 'before'`,
		`echo '╔══════════════════╗'`,
		`echo '║   LAUNCH v1.0    ║'`,
		`echo '╠══════════════════╣'`,
		`echo '║ starting stack   ║'`,
		`echo '╚══════════════════╝'`,
		`echo 'after'`,
	}, "\n")+"\n")

	result, err := runner.Stream(context.Background(), domain.SrcCLI, script)
	require.NoError(t, err)

	require.Len(t, *logLines, 2)
	assert.Equal(t, "before", (*logLines)[0].Data["text"])
	assert.Equal(t, "after", (*logLines)[1].Data["text"])

	// Dropped lines skip the buffer and the aggregate too; the log tail
	// must not serve box chrome.
	assert.Equal(t, 2, buffer.Len())
	assert.Equal(t, "before\nafter\n", result.Output)
	assert.NotContains(t, result.Output, "LAUNCH v1.0")
}

func TestRunner_MatchEmitsMessageAndWidgets(t *testing.T) {
	runner, bus, _ := newTestRunner(t)
	messages := collectByType(bus, domain.EventMessage)
	widgets := collectByType(bus, domain.EventWidget)

	script := writeScript(t, `echo 'Bind for 0.0.0.0:6080 failed: port is already allocated'`+"\n")
	result, err := runner.Stream(context.Background(), domain.SrcWeb, script)
	require.NoError(t, err)
	assert.True(t, result.HadAutoFixes)

	require.Len(t, *messages, 1)
	msg := (*messages)[0]
	text := msg.Data["text"].(string)
	assert.True(t, strings.HasPrefix(text, "🔴 **"))
	assert.Contains(t, text, "6080")
	assert.Equal(t, domain.RoleBot, msg.Data["role"])
	assert.NotEmpty(t, msg.Data["id"])

	require.NotEmpty(t, *widgets)
	buttons := (*widgets)[0].Data
	assert.Equal(t, domain.WidgetButtons, buttons["type"])

	items, ok := buttons["items"].([]any)
	require.True(t, ok)
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, item.(map[string]any)["value"].(string))
	}
	assert.Contains(t, values, "diag_port::6080")
}

func TestRunner_SameErrorFiresOncePerRun(t *testing.T) {
	runner, bus, _ := newTestRunner(t)
	messages := collectByType(bus, domain.EventMessage)

	line := `echo 'Bind for 0.0.0.0:6080 failed: port is already allocated'`
	script := writeScript(t, line+"\n"+line+"\n")
	_, err := runner.Stream(context.Background(), domain.SrcCLI, script)
	require.NoError(t, err)

	assert.Len(t, *messages, 1)

	// A new run starts with a fresh fired set.
	script2 := writeScript(t, line+"\n")
	_, err = runner.Stream(context.Background(), domain.SrcCLI, script2)
	require.NoError(t, err)
	assert.Len(t, *messages, 2)
}

func TestRunner_CancelTerminatesAndDrains(t *testing.T) {
	runner, bus, _ := newTestRunner(t)
	messages := collectByType(bus, domain.EventMessage)

	script := writeScript(t, "echo started\nsleep 30\necho never\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := runner.Stream(ctx, domain.SrcCLI, script)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotEqual(t, 0, result.ExitCode)

	require.NotEmpty(t, *messages)
	last := (*messages)[len(*messages)-1]
	assert.Contains(t, last.Data["text"], "cancelled")
}

func TestBannerFilter(t *testing.T) {
	f := &bannerFilter{}

	assert.False(t, f.drop("normal line"))
	assert.True(t, f.drop("┌───────┐"))
	assert.True(t, f.drop("anything inside the banner"))
	assert.True(t, f.drop("└───────┘"))
	assert.False(t, f.drop("normal again"))

	// Stray chrome outside a banner.
	assert.True(t, f.drop("║ stray border ║"))
	assert.True(t, f.drop("────────"))
	assert.False(t, f.drop(""))
}
