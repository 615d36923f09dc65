package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// LocalShell runs commands through the operator's login shell so profile
// customizations such as nvm or Homebrew are loaded.
type LocalShell struct {
	// Env is appended to the current process environment.
	Env []string
	// GOOS overrides runtime.GOOS when choosing the shell.
	GOOS string
	// Shell replaces the default argv prefix, e.g. {"bash", "-l", "-c"}.
	Shell []string
}

func (l LocalShell) Describe() string {
	return "local"
}

func (l LocalShell) Execute(ctx context.Context, command string) (Result, error) {
	return runArgv(ctx, l.argv(command), l.Env, command)
}

func (l LocalShell) argv(command string) []string {
	if len(l.Shell) > 0 {
		return append(append([]string{}, l.Shell...), command)
	}
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "darwin" {
		return []string{"/bin/zsh", "-l", "-c", command}
	}
	return []string{"sh", "-c", command}
}

func runArgv(ctx context.Context, argv []string, env []string, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			result.ExitCode = -1
			return result, fmt.Errorf("run %s: %w", argv[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return finish(command, result)
}
