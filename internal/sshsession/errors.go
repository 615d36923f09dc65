package sshsession

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCredentials is returned when a target offers nothing to authenticate with.
var ErrNoCredentials = errors.New("no ssh credentials available")

// ConnectivityError reports that the target's TCP port could not be reached.
type ConnectivityError struct {
	Address string
	Err     error
}

func (e *ConnectivityError) Error() string {
	if e == nil {
		return "connectivity error"
	}
	if e.Err == nil {
		return fmt.Sprintf("cannot reach %s", e.Address)
	}
	return fmt.Sprintf("cannot reach %s: %v", e.Address, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthenticationError aggregates every failed strategy into one failure.
// Only strategy names are exposed in the message.
type AuthenticationError struct {
	Target string
	Tried  []string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e == nil {
		return "authentication failed"
	}
	if len(e.Tried) == 0 {
		if e.Err != nil {
			return fmt.Sprintf("authentication failed for %s: %v", e.Target, e.Err)
		}
		return fmt.Sprintf("authentication failed for %s", e.Target)
	}
	return fmt.Sprintf("authentication failed for %s (tried %s)", e.Target, strings.Join(e.Tried, ", "))
}

func (e *AuthenticationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
