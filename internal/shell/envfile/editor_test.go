package envfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditor(t *testing.T, content string) *Editor {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return NewEditor(path)
}

func TestEditor_SetCreatesFile(t *testing.T) {
	e := newTestEditor(t, "")

	require.NoError(t, e.Set("AUTOPILOT_INTERVAL", "120"))

	values, err := e.Values()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AUTOPILOT_INTERVAL": "120"}, values)
}

func TestEditor_UpdatesInPlacePreservingLayout(t *testing.T) {
	e := newTestEditor(t, "# stack settings\nDB_HOST=localhost\n\nDB_PASSWORD=old\n")

	require.NoError(t, e.Set("DB_PASSWORD", "new"))

	data, err := os.ReadFile(e.Path())
	require.NoError(t, err)
	assert.Equal(t, "# stack settings\nDB_HOST=localhost\n\nDB_PASSWORD=new\n", string(data))
}

func TestEditor_SetAllAppendsNewKeysSorted(t *testing.T) {
	e := newTestEditor(t, "EXISTING=1\n")

	require.NoError(t, e.SetAll(map[string]string{
		"ZED":      "z",
		"ALPHA":    "a",
		"EXISTING": "2",
	}))

	data, err := os.ReadFile(e.Path())
	require.NoError(t, err)
	assert.Equal(t, "EXISTING=2\nALPHA=a\nZED=z\n", string(data))
}

func TestEditor_QuotesValuesWithSpaces(t *testing.T) {
	e := newTestEditor(t, "")

	require.NoError(t, e.Set("GREETING", "hello world"))

	data, err := os.ReadFile(e.Path())
	require.NoError(t, err)
	assert.Equal(t, "GREETING=\"hello world\"\n", string(data))

	values, err := e.Values()
	require.NoError(t, err)
	assert.Equal(t, "hello world", values["GREETING"])
}

func TestEditor_IgnoresCommentsAndExports(t *testing.T) {
	e := newTestEditor(t, "# DB_HOST=commented\nexport TOKEN=abc\n")

	values, err := e.Values()
	require.NoError(t, err)
	assert.NotContains(t, values, "DB_HOST")
	assert.Equal(t, "abc", values["TOKEN"])
}

func TestEditor_SetAllEmptyIsNoop(t *testing.T) {
	e := newTestEditor(t, "")
	require.NoError(t, e.SetAll(nil))
	_, err := os.Stat(e.Path())
	assert.True(t, os.IsNotExist(err))
}
