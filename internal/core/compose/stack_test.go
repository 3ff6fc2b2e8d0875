package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
services:
  autopilot:
    image: dockfra/autopilot:latest
    environment:
      AUTOPILOT_INTERVAL: ${AUTOPILOT_INTERVAL}
      OPENAI_API_KEY: ${OPENAI_API_KEY}
    networks:
      - shared
  web:
    image: dockfra/web:latest
    ports:
      - "6080:80"
    networks:
      - shared
  db:
    image: postgres:16
    environment:
      POSTGRES_PASSWORD: ${DB_PASSWORD:-changeme}

networks:
  shared:
    name: dockfra-shared
`

func TestParseStack(t *testing.T) {
	info, err := ParseStack(sampleYAML)
	require.NoError(t, err)

	assert.Equal(t, []string{"autopilot", "db", "web"}, info.Services)
	assert.Equal(t, []string{"dockfra-shared"}, info.Networks)
	assert.Equal(t, []string{"AUTOPILOT_INTERVAL", "DB_PASSWORD", "OPENAI_API_KEY"}, info.EnvVars)
}

func TestParseStack_UnsetVariablesDoNotFail(t *testing.T) {
	// ${UNSET_VAR} with no default must parse: diagnosing unset variables
	// is the engine's job, not the parser's.
	info, err := ParseStack(`
services:
  app:
    image: app:latest
    environment:
      TOKEN: ${TOTALLY_UNSET_VAR}
`)
	require.NoError(t, err)
	assert.Contains(t, info.EnvVars, "TOTALLY_UNSET_VAR")
}

func TestParseStack_EmptyInput(t *testing.T) {
	_, err := ParseStack("   \n")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseStack_InvalidYAML(t *testing.T) {
	_, err := ParseStack("services: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseStack_NoServices(t *testing.T) {
	_, err := ParseStack("networks:\n  x: {}\n")
	assert.ErrorIs(t, err, ErrNoServices)
}
