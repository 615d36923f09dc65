// Package sshsession establishes authenticated SSH sessions against a remote
// target.
//
// Authentication follows a strict priority order and stops at the first
// success:
//
//   - an explicit private key, which is then the only permitted credential
//   - the local SSH agent
//   - default keys (~/.ssh/id_rsa, ~/.ssh/id_ed25519)
//   - a supplied password
//
// Every attempt is a fresh handshake. When all of them fail a single
// AuthenticationError is returned.
package sshsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Session is an authenticated connection to one target. It is owned by the
// caller that created it and must be closed after the last use.
type Session struct {
	client *ssh.Client
	target Target
	method string
}

// NewSession opens a channel for a single command.
func (s *Session) NewSession() (*ssh.Session, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("ssh session is closed")
	}
	return s.client.NewSession()
}

// Dial opens a direct-tcpip channel from the remote host to addr.
func (s *Session) Dial(network, addr string) (net.Conn, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("ssh session is closed")
	}
	return s.client.Dial(network, addr)
}

// Client exposes the underlying client.
func (s *Session) Client() *ssh.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Target returns the target without its password.
func (s *Session) Target() Target {
	if s == nil {
		return Target{}
	}
	return s.target.WithoutSecrets()
}

// Method names the strategy that authenticated the session.
func (s *Session) Method() string {
	if s == nil {
		return ""
	}
	return s.method
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Connector builds sessions. The zero value reads the operator's home
// directory and SSH_AUTH_SOCK from the environment.
type Connector struct {
	Home            string
	AgentSocket     string
	DerivePublicKey func(ctx context.Context, keyPath string) ([]byte, error)
	Logger          *slog.Logger
}

// Connect authenticates against target with the default Connector.
func Connect(ctx context.Context, target Target) (*Session, error) {
	var c Connector
	return c.Connect(ctx, target)
}

// Connect probes the target, then walks the strategy list until one
// handshake succeeds.
func (c *Connector) Connect(ctx context.Context, target Target) (*Session, error) {
	if strings.TrimSpace(target.Host) == "" {
		return nil, errors.New("ssh host is required")
	}
	if strings.TrimSpace(target.User) == "" {
		return nil, errors.New("ssh user is required")
	}
	addr := target.Address()
	if err := ProbePort(ctx, addr, target.timeout()); err != nil {
		return nil, &ConnectivityError{Address: addr, Err: err}
	}

	attempts := c.strategies(target)
	if len(attempts) == 0 {
		return nil, &AuthenticationError{Target: target.String(), Err: ErrNoCredentials}
	}
	logger := c.logger()
	logger.Debug("ssh strategies", "target", target.String(), "order", describeAttempts(attempts))
	tried := make([]string, 0, len(attempts))
	var lastErr error
	for _, attempt := range attempts {
		tried = append(tried, attempt.name)
		client, err := c.tryAttempt(ctx, target, attempt)
		if err == nil {
			logger.Debug("ssh authenticated", "target", target.String(), "method", attempt.name)
			return &Session{client: client, target: target, method: attempt.name}, nil
		}
		var connErr *ConnectivityError
		if errors.As(err, &connErr) {
			return nil, connErr
		}
		logger.Debug("ssh strategy failed", "target", target.String(), "method", attempt.name, "err", err)
		lastErr = err
	}
	return nil, &AuthenticationError{Target: target.String(), Tried: tried, Err: lastErr}
}

func (c *Connector) tryAttempt(ctx context.Context, target Target, attempt strategy) (*ssh.Client, error) {
	methods, cleanup, err := attempt.prepare(ctx)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, err
	}
	return dialClient(ctx, target, methods)
}

func dialClient(ctx context.Context, target Target, methods []ssh.AuthMethod) (*ssh.Client, error) {
	addr := target.Address()
	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         target.timeout(),
	}
	dialer := net.Dialer{Timeout: target.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectivityError{Address: addr, Err: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// ProbePort checks TCP reachability of addr within timeout.
func ProbePort(ctx context.Context, addr string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Connector) home() string {
	if strings.TrimSpace(c.Home) != "" {
		return c.Home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func (c *Connector) agentSocket() string {
	if strings.TrimSpace(c.AgentSocket) != "" {
		return c.AgentSocket
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

func (c *Connector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func describeAttempts(attempts []strategy) string {
	names := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		names = append(names, attempt.name)
	}
	return fmt.Sprintf("[%s]", strings.Join(names, " "))
}
