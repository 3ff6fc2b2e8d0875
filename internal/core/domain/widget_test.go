package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWidget_Buttons(t *testing.T) {
	w := Buttons{
		Label: "Actions",
		Items: []Button{
			{Label: "Remove network dockfra-shared", Value: "fix_network_overlap::dockfra-shared"},
			{Label: "Clean all unused", Value: "fix_network_overlap::"},
		},
	}

	data, err := EncodeWidget(w)
	require.NoError(t, err)
	assert.Equal(t, "buttons", data["type"])
	items, ok := data["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestWidget_JSONRoundTrip(t *testing.T) {
	widgets := []Widget{
		Buttons{Items: []Button{{Label: "Fix", Value: "fix_container::db"}}},
		Input{Name: "AUTOPILOT_INTERVAL", Chips: []Chip{{Label: "60"}, {Label: "120"}}},
		Select{Name: "engine", Options: []Option{{Label: "Docker", Value: "docker"}}},
		Code{Text: "docker compose up -d"},
		StatusRow{Items: []StatusItem{{Name: "traefik", OK: true}}},
		Progress{Label: "Building", Done: false},
		ActionGrid{RunValue: "run_suggested_cmd::", Commands: []GridCommand{{Cmd: "docker ps", TTY: false}}},
		ConfigPrompt{Title: "API key required", Fields: []Field{{Name: "API_KEY", Type: "password"}}, SettingsGroup: "ai"},
	}

	for _, w := range widgets {
		data, err := EncodeWidget(w)
		require.NoError(t, err, w.WidgetType())

		// Wire round trip: map → JSON → map must be stable.
		b, err := json.Marshal(data)
		require.NoError(t, err)
		var back map[string]any
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, data, back, w.WidgetType())

		// Typed round trip.
		decoded, err := DecodeWidget(data)
		require.NoError(t, err, w.WidgetType())
		assert.Equal(t, w, decoded, w.WidgetType())
	}
}

func TestDecodeWidget_UnknownType(t *testing.T) {
	_, err := DecodeWidget(map[string]any{"type": "hologram"})
	assert.Error(t, err)
}

func TestEvent_CloneDataIsIndependent(t *testing.T) {
	ev := Event{
		ID:   1,
		Type: EventMessage,
		Data: map[string]any{"text": "hello", "nested": map[string]any{"a": "b"}},
	}

	clone := ev.CloneData()
	clone["text"] = "mutated"
	clone["nested"].(map[string]any)["a"] = "c"

	assert.Equal(t, "hello", ev.Data["text"])
	assert.Equal(t, "b", ev.Data["nested"].(map[string]any)["a"])
}
