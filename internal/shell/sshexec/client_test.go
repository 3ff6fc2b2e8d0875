package sshexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresHostAndUser(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient(Config{Host: "example.com"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClient_RejectsBadKey(t *testing.T) {
	_, err := NewClient(Config{Host: "example.com", User: "ops"}, []byte("not a key"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse SSH private key")
}

func TestTarget(t *testing.T) {
	c := &Client{cfg: Config{Host: "example.com", Port: 2222, User: "ops"}}
	assert.Equal(t, "ops@example.com:2222", c.Target())
}
