package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogSource struct {
	out   string
	err   error
	calls int
}

func (f *fakeLogSource) TailLogs(ctx context.Context, nameOrID string, lines int) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestTailer_PrimaryWins(t *testing.T) {
	primary := &fakeLogSource{out: "from cli"}
	fallback := &fakeLogSource{out: "from sdk"}

	tailer := NewTailer(primary, fallback)
	out, err := tailer.TailLogs(context.Background(), "web", 40)
	require.NoError(t, err)
	assert.Equal(t, "from cli", out)
	assert.Zero(t, fallback.calls)
}

func TestTailer_FallsBackOnError(t *testing.T) {
	primary := &fakeLogSource{err: errors.New("exec: not found")}
	fallback := &fakeLogSource{out: "from sdk"}

	tailer := NewTailer(primary, fallback)
	out, err := tailer.TailLogs(context.Background(), "web", 40)
	require.NoError(t, err)
	assert.Equal(t, "from sdk", out)
	assert.Equal(t, 1, primary.calls)
}

func TestTailer_NoFallback(t *testing.T) {
	primary := &fakeLogSource{err: ErrCLIUnavailable}

	tailer := NewTailer(primary, nil)
	_, err := tailer.TailLogs(context.Background(), "web", 40)
	assert.ErrorIs(t, err, ErrCLIUnavailable)
}

func TestCLI_MissingBinary(t *testing.T) {
	cli := NewCLI("definitely-not-a-docker-binary")
	_, err := cli.TailLogs(context.Background(), "web", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCLIUnavailable)
}

func TestDockerError_Format(t *testing.T) {
	err := NewDockerError("TailLogs", "container", "web", "boom", ErrContainerNotFound)
	assert.Equal(t, "TailLogs container web: boom", err.Error())
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestContainerInfo_IsHealthy(t *testing.T) {
	assert.True(t, ContainerInfo{Status: ContainerStatusRunning}.IsHealthy())
	assert.True(t, ContainerInfo{Status: ContainerStatusRunning, Health: "healthy"}.IsHealthy())
	assert.False(t, ContainerInfo{Status: ContainerStatusRunning, Health: "unhealthy"}.IsHealthy())
	assert.False(t, ContainerInfo{Status: ContainerStatusExited}.IsHealthy())
}
