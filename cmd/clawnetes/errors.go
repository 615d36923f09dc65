// ABOUTME: Helpers for consistent CLI error messages with hints and next steps.
// ABOUTME: Maps typed errors from the provisioning packages to operator guidance.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/provision"
	"github.com/clawnetes/clawnetes/internal/sshsession"
	"github.com/clawnetes/clawnetes/internal/tunnel"
)

type cliError struct {
	msg   string
	next  string
	hints []string
	err   error
}

func (e *cliError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.msg) != "" {
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return "unknown error"
}

func (e *cliError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func newCLIError(msg, next string, hints ...string) error {
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
	}
}

func wrapCLIError(err error, msg, next string, hints ...string) error {
	if err == nil {
		return newCLIError(msg, next, hints...)
	}
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
		err:   err,
	}
}

func withHints(err error, hints ...string) error {
	if err == nil {
		return nil
	}
	hints = normalizeHints(hints)
	if len(hints) == 0 {
		return err
	}
	var ce *cliError
	if errors.As(err, &ce) {
		ce.hints = normalizeHints(append(ce.hints, hints...))
		return err
	}
	return &cliError{err: err, hints: hints}
}

// explain attaches operator guidance to the typed errors the provisioning
// packages return. Errors that already carry guidance pass through.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return err
	}
	var (
		connErr    *sshsession.ConnectivityError
		authErr    *sshsession.AuthenticationError
		timeoutErr *provision.VerificationTimeoutError
		startErr   *provision.StartError
		parseErr   *gatewayconfig.ParseError
		runningErr *tunnel.AlreadyRunningError
		bindErr    *tunnel.BindError
		verifyErr  *tunnel.VerifyError
	)
	switch {
	case errors.As(err, &connErr):
		return wrapCLIError(err, err.Error(), "check that the host is up and port 22 is reachable",
			"ssh -v "+connErr.Address)
	case errors.As(err, &authErr):
		return wrapCLIError(err, err.Error(), "supply credentials with --identity or --password-stdin",
			"keys tried: ~/.ssh/id_rsa, ~/.ssh/id_ed25519 and the ssh agent")
	case errors.As(err, &timeoutErr):
		return wrapCLIError(err, fmt.Sprintf("gateway did not become reachable after %d attempts", timeoutErr.Attempts),
			"inspect the gateway on the host", timeoutErr.Remediation...)
	case errors.As(err, &startErr):
		return wrapCLIError(err, err.Error(), "openclaw gateway status", "openclaw logs --follow")
	case errors.As(err, &parseErr):
		return wrapCLIError(err, err.Error(), "clawnetes configure --intent <file> to rewrite the configuration")
	case errors.Is(err, provision.ErrNoPendingPairing):
		return wrapCLIError(err, err.Error(), "send a message to the bot, then approve the code it replies with")
	case errors.Is(err, provision.ErrUnsupportedOS):
		return wrapCLIError(err, err.Error(), "", "supported hosts are Linux and macOS (Windows through --wsl)")
	case errors.As(err, &runningErr):
		return wrapCLIError(err, err.Error(), "stop the running tunnel first")
	case errors.As(err, &bindErr):
		return wrapCLIError(err, err.Error(), "pick another port with --local-port",
			"another gateway or tunnel may already be listening on "+bindErr.Address)
	case errors.As(err, &verifyErr):
		return wrapCLIError(err, err.Error(), "clawnetes status --host <host> to inspect the remote gateway")
	}
	return err
}

func describeError(err error) (string, string, []string) {
	if err == nil {
		return "", "", nil
	}
	err = explain(err)
	var ce *cliError
	if errors.As(err, &ce) {
		msg := strings.TrimSpace(ce.msg)
		if msg == "" {
			msg = errorMessage(err)
		}
		return msg, strings.TrimSpace(ce.next), normalizeHints(ce.hints)
	}
	return errorMessage(err), "", nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}

func normalizeHints(hints []string) []string {
	seen := make(map[string]struct{}, len(hints))
	out := make([]string, 0, len(hints))
	for _, hint := range hints {
		value := strings.TrimSpace(hint)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func printError(w io.Writer, msg, next string, hints []string) {
	if w == nil {
		return
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	_, _ = io.WriteString(w, "error: "+msg+"\n")
	next = strings.TrimSpace(next)
	if next != "" {
		_, _ = io.WriteString(w, "next: "+next+"\n")
	}
	for _, hint := range normalizeHints(hints) {
		_, _ = io.WriteString(w, "hint: "+hint+"\n")
	}
}
