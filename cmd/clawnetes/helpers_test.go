package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clawnetes/clawnetes/internal/executor/executortest"
	"github.com/clawnetes/clawnetes/internal/telegram"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer for commands that write from goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type okProber struct{}

func (okProber) Probe(ctx context.Context, port int) error { return nil }

type cliHarness struct {
	t          *testing.T
	dir        string
	configPath string
	stdout     *syncBuffer
	stderr     *syncBuffer
	fake       *executortest.FakeExecutor
	opened     int
	telegram   []string
}

// newCLIHarness points the CLI at a temporary state directory, captures its
// output and answers target commands from a FakeExecutor.
func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	h := &cliHarness{
		t:      t,
		dir:    t.TempDir(),
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		fake: executortest.New().
			On("uname -s", "Linux").
			On("id -u", "1000").
			On("echo $HOME", "/home/sam"),
	}
	h.configPath = h.writeConfig("")

	origStdout, origStderr, origStdin := stdoutWriter, stderrWriter, stdinReader
	origOpen, origTelegram, origInteractive := openConnection, validateTelegram, isInteractive
	stdoutWriter = h.stdout
	stderrWriter = h.stderr
	stdinReader = strings.NewReader("")
	isInteractive = func() bool { return false }
	openConnection = func(ctx context.Context, a *app, tf targetFlags) (*connection, error) {
		if err := tf.validate(); err != nil {
			return nil, err
		}
		h.opened++
		return &connection{exec: h.fake, label: "sam@gateway.test:22", probe: okProber{}, close: func() {}}, nil
	}
	validateTelegram = func(ctx context.Context, token string, opts telegram.Options) (telegram.Bot, error) {
		h.telegram = append(h.telegram, token)
		return telegram.Bot{ID: 1, Username: "rex_bot"}, nil
	}
	t.Cleanup(func() {
		stdoutWriter, stderrWriter, stdinReader = origStdout, origStderr, origStdin
		openConnection, validateTelegram, isInteractive = origOpen, origTelegram, origInteractive
	})
	return h
}

// writeConfig writes config.yaml with the harness state directory plus
// extra YAML lines.
func (h *cliHarness) writeConfig(extra string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, "config.yaml")
	content := "state_dir: " + h.dir + "\nlog_level: error\nverify_attempts: 1\nverify_interval: 1ms\n" + extra
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (h *cliHarness) writeFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (h *cliHarness) run(args ...string) error {
	h.t.Helper()
	return dispatch(context.Background(), args, commonFlags{configPath: h.configPath})
}

func (h *cliHarness) runJSON(v any, args ...string) {
	h.t.Helper()
	before := len(h.stdout.String())
	require.NoError(h.t, dispatch(context.Background(), args, commonFlags{configPath: h.configPath, jsonOutput: true}))
	require.NoError(h.t, json.Unmarshal([]byte(h.stdout.String()[before:]), v))
}
