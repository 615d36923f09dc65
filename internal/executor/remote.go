package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// SessionOpener opens one SSH channel per command. *ssh.Client and
// *sshsession.Session both satisfy it.
type SessionOpener interface {
	NewSession() (*ssh.Session, error)
}

// Remote executes commands over an established SSH connection. Once a
// command has been dispatched it runs to completion; ctx only gates the
// start.
type Remote struct {
	Client SessionOpener
	Name   string
}

func (r Remote) Describe() string {
	if r.Name == "" {
		return "remote"
	}
	return "remote " + r.Name
}

func (r Remote) Execute(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if r.Client == nil {
		return Result{ExitCode: -1}, errors.New("remote executor has no session")
	}
	session, err := r.Client.NewSession()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("open ssh channel: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(command)
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			result.ExitCode = -1
			return result, fmt.Errorf("remote command ended without exit status: %w", err)
		default:
			result.ExitCode = -1
			return result, fmt.Errorf("run remote command: %w", err)
		}
	}
	return finish(command, result)
}
