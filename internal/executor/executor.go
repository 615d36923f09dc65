// ABOUTME: Uniform command execution against a local shell, an SSH session, or WSL.
// ABOUTME: Every backend maps a non-zero exit to RemoteCommandError carrying both streams.

// Package executor runs single shell commands against an execution context.
//
// Callers depend on the Executor interface only; platform differences live in
// the LocalShell, Remote and WSL implementations.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// Result captures one command's output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined joins stdout and stderr, skipping empty streams.
func (r Result) Combined() string {
	out := strings.TrimSpace(r.Stdout)
	errOut := strings.TrimSpace(r.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Executor runs a command string and reports its result.
type Executor interface {
	Execute(ctx context.Context, command string) (Result, error)
	Describe() string
}

// RemoteCommandError is returned for a non-zero exit status.
type RemoteCommandError struct {
	Command string
	Result  Result
}

func (e *RemoteCommandError) Error() string {
	if e == nil {
		return "command failed"
	}
	detail := strings.TrimSpace(e.Result.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Result.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("command failed with exit code %d", e.Result.ExitCode)
	}
	return fmt.Sprintf("command failed with exit code %d: %s", e.Result.ExitCode, detail)
}

func finish(command string, result Result) (Result, error) {
	if result.ExitCode != 0 {
		return result, &RemoteCommandError{Command: command, Result: result}
	}
	return result, nil
}

// Output runs command and returns trimmed stdout.
func Output(ctx context.Context, exec Executor, command string) (string, error) {
	result, err := exec.Execute(ctx, command)
	if err != nil {
		return strings.TrimSpace(result.Stdout), err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Quote wraps value in single quotes for POSIX shells.
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	if strings.IndexFunc(value, isShellSpecial) == -1 {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// Join quotes each argument and joins them with spaces.
func Join(args ...string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, Quote(arg))
	}
	return strings.Join(quoted, " ")
}

func isShellSpecial(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', '\\', '\'', '"', '$', '`',
		'&', '|', ';', '<', '>', '(', ')', '*', '?', '[', ']', '#', '~', '!', '{', '}':
		return true
	default:
		return false
	}
}
