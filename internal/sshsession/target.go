// ABOUTME: Remote target description and address helpers for SSH sessions.
// ABOUTME: Targets are immutable values supplied per call and never persisted.

package sshsession

import (
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the SSH port used when a target does not specify one.
	DefaultPort = 22
	// DefaultTimeout bounds the TCP probe and the SSH handshake.
	DefaultTimeout = 10 * time.Second
)

// Target describes a remote host and the credentials offered to it.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	Timeout  time.Duration
}

// ParseTarget splits "user@host:port" into a Target. Missing parts stay empty
// and are filled by the accessors.
func ParseTarget(raw string) Target {
	value := strings.TrimSpace(raw)
	var target Target
	if idx := strings.LastIndex(value, "@"); idx != -1 {
		target.User = value[:idx]
		value = value[idx+1:]
	}
	if host, port, err := net.SplitHostPort(value); err == nil {
		if n, convErr := strconv.Atoi(port); convErr == nil {
			target.Host = host
			target.Port = n
			return target
		}
	}
	target.Host = value
	return target
}

// Address returns host:port with the default port applied.
func (t Target) Address() string {
	return net.JoinHostPort(strings.TrimSpace(t.Host), strconv.Itoa(t.port()))
}

// String renders the target as user@host:port for messages.
func (t Target) String() string {
	if strings.TrimSpace(t.User) == "" {
		return t.Address()
	}
	return t.User + "@" + t.Address()
}

func (t Target) port() int {
	if t.Port <= 0 {
		return DefaultPort
	}
	return t.Port
}

func (t Target) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// WithoutSecrets returns a copy safe to log or persist.
func (t Target) WithoutSecrets() Target {
	t.Password = ""
	return t
}
