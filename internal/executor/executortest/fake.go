// Package executortest provides a scripted Executor for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/clawnetes/clawnetes/internal/executor"
)

type rule struct {
	match  string
	result executor.Result
	err    error
	times  int
}

// FakeExecutor answers commands from rules matched by substring, first added
// first checked. Unmatched commands succeed with empty output.
type FakeExecutor struct {
	mu    sync.Mutex
	rules []*rule
	calls []string
	Name  string
}

// New returns an empty FakeExecutor.
func New() *FakeExecutor {
	return &FakeExecutor{}
}

// On answers commands containing match with stdout and exit code 0.
func (f *FakeExecutor) On(match, stdout string) *FakeExecutor {
	return f.OnResult(match, executor.Result{Stdout: stdout})
}

// OnResult answers with a full result. A non-zero exit code produces a
// *executor.RemoteCommandError alongside the result.
func (f *FakeExecutor) OnResult(match string, result executor.Result) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, result: result})
	return f
}

// OnError answers with a transport-level error.
func (f *FakeExecutor) OnError(match string, err error) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, result: executor.Result{ExitCode: -1}, err: err})
	return f
}

// Fail answers commands containing match with a non-zero exit and stderr.
func (f *FakeExecutor) Fail(match, stderr string) *FakeExecutor {
	return f.OnResult(match, executor.Result{Stderr: stderr, ExitCode: 1})
}

// Times limits the most recently added rule to n uses. Once consumed the
// rule is dropped and later rules get a chance to match.
func (f *FakeExecutor) Times(n int) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rules) > 0 {
		f.rules[len(f.rules)-1].times = n
	}
	return f
}

func (f *FakeExecutor) Describe() string {
	if f.Name == "" {
		return "fake"
	}
	return f.Name
}

func (f *FakeExecutor) Execute(ctx context.Context, command string) (executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return executor.Result{ExitCode: -1}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	for i, r := range f.rules {
		if !strings.Contains(command, r.match) {
			continue
		}
		if r.times > 0 {
			r.times--
			if r.times == 0 {
				f.rules = append(f.rules[:i:i], f.rules[i+1:]...)
			}
		}
		if r.err != nil {
			return r.result, r.err
		}
		if r.result.ExitCode != 0 {
			return r.result, &executor.RemoteCommandError{Command: command, Result: r.result}
		}
		return r.result, nil
	}
	return executor.Result{}, nil
}

// Calls returns every command executed so far.
func (f *FakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsMatching returns executed commands containing substr.
func (f *FakeExecutor) CallsMatching(substr string) []string {
	var out []string
	for _, call := range f.Calls() {
		if strings.Contains(call, substr) {
			out = append(out, call)
		}
	}
	return out
}

// Executed reports whether any command contained substr.
func (f *FakeExecutor) Executed(substr string) bool {
	return len(f.CallsMatching(substr)) > 0
}

// Index returns the position of the first command containing substr, or -1.
func (f *FakeExecutor) Index(substr string) int {
	for i, call := range f.Calls() {
		if strings.Contains(call, substr) {
			return i
		}
	}
	return -1
}
