// Package sshexec runs remediation commands on a remote host over SSH. It
// backs the ssh_info and run_ssh_cmd actions for stacks whose daemon lives
// on another machine.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	ErrNotConfigured = errors.New("ssh not configured")
	ErrCommandEmpty  = errors.New("ssh command is empty")
)

// Config describes the remote endpoint.
type Config struct {
	Host           string
	Port           int
	User           string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Result is the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client keeps one SSH connection alive and runs commands over it,
// reconnecting transparently when the connection dies.
type Client struct {
	cfg    Config
	signer ssh.Signer

	mu     sync.Mutex // protects client
	client *ssh.Client
}

// NewClient parses the private key and prepares a client. No connection is
// made until the first command runs.
func NewClient(cfg Config, privateKey []byte) (*Client, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, ErrNotConfigured
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	return &Client{cfg: cfg, signer: signer}, nil
}

// Target returns the user@host:port string shown to the operator.
func (c *Client) Target() string {
	return c.cfg.User + "@" + net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// connect establishes the SSH connection if not already connected.
func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		_, _, err := c.client.SendRequest("keepalive@dockfra", true, nil)
		if err == nil {
			return nil
		}
		c.client.Close()
		c.client = nil
	}

	config := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Store and verify host keys
		Timeout:         c.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	c.client = client
	return nil
}

// Run executes one command on the remote host and captures its output. The
// session is killed when ctx is cancelled or the command timeout elapses.
func (c *Client) Run(ctx context.Context, command string) (*Result, error) {
	if command == "" {
		return nil, ErrCommandEmpty
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("SSH run: %w", err)
	}
	return result, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}
