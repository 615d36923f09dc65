package executor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalShellSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	exec := LocalShell{Shell: []string{"sh", "-c"}}
	result, err := exec.Execute(context.Background(), "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\nerr", result.Combined())
}

func TestLocalShellNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	exec := LocalShell{Shell: []string{"sh", "-c"}}
	result, err := exec.Execute(context.Background(), "echo partial; echo boom >&2; exit 3")

	var cmdErr *RemoteCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "partial\n", cmdErr.Result.Stdout)
	assert.Equal(t, "boom\n", cmdErr.Result.Stderr)
	assert.Contains(t, err.Error(), "exit code 3: boom")
}

func TestLocalShellEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	exec := LocalShell{Shell: []string{"sh", "-c"}, Env: []string{"CLAWNETES_TEST=yes"}}
	out, err := Output(context.Background(), exec, "echo $CLAWNETES_TEST")
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
}

func TestLocalShellMissingBinary(t *testing.T) {
	exec := LocalShell{Shell: []string{"/nonexistent/clawnetes-shell", "-c"}}
	result, err := exec.Execute(context.Background(), "true")
	require.Error(t, err)
	var cmdErr *RemoteCommandError
	assert.False(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, result.ExitCode)
}

func TestLocalShellCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LocalShell{}.Execute(ctx, "true")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalShellArgv(t *testing.T) {
	assert.Equal(t, []string{"/bin/zsh", "-l", "-c", "node -v"}, LocalShell{GOOS: "darwin"}.argv("node -v"))
	assert.Equal(t, []string{"sh", "-c", "node -v"}, LocalShell{GOOS: "linux"}.argv("node -v"))
}

func TestWSLArgv(t *testing.T) {
	w := WSL{Distro: "Ubuntu-24.04"}
	assert.Equal(t, []string{"wsl", "-d", "Ubuntu-24.04", "--", "/bin/bash", "-c", "id -u"}, w.argv("id -u"))
	assert.Equal(t, []string{"wsl", "-d", "Ubuntu-24.04", "--user", "root", "--", "/bin/bash", "-c", "id -u"}, w.AsRoot().argv("id -u"))
	assert.Equal(t, "wsl Ubuntu", WSL{}.Describe())
}

func encodeUTF16LE(s string, bom bool) []byte {
	var buf bytes.Buffer
	if bom {
		buf.Write([]byte{0xFF, 0xFE})
	}
	for _, unit := range utf16.Encode([]rune(s)) {
		_ = binary.Write(&buf, binary.LittleEndian, unit)
	}
	return buf.Bytes()
}

func TestParseDistroList(t *testing.T) {
	list := "docker-desktop\r\nUbuntu-24.04\r\n\r\n"
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "utf16 with bom", raw: encodeUTF16LE(list, true)},
		{name: "utf16 without bom", raw: encodeUTF16LE(list, false)},
		{name: "utf8", raw: []byte(list)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseDistroList(tc.raw)
			assert.Equal(t, []string{"docker-desktop", "Ubuntu-24.04"}, got)
			assert.Equal(t, "Ubuntu-24.04", PickUbuntu(got))
		})
	}
}

func TestPickUbuntuFallback(t *testing.T) {
	assert.Equal(t, DefaultWSLDistro, PickUbuntu([]string{"Debian"}))
	assert.Equal(t, "ubuntu", PickUbuntu([]string{"ubuntu"}))
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"":              "''",
		"plain":         "plain",
		"two words":     "'two words'",
		"it's":          `'it'\''s'`,
		"$HOME":         "'$HOME'",
		"a|b":           "'a|b'",
		"/usr/bin/node": "/usr/bin/node",
	}
	for in, want := range tests {
		assert.Equal(t, want, Quote(in), in)
	}
	assert.Equal(t, "openclaw pairing approve 'AB 12'", Join("openclaw", "pairing", "approve", "AB 12"))
}

func TestRemoteCommandErrorFallsBackToStdout(t *testing.T) {
	err := &RemoteCommandError{Command: "x", Result: Result{Stdout: "only stdout", ExitCode: 1}}
	assert.Equal(t, "command failed with exit code 1: only stdout", err.Error())
	err = &RemoteCommandError{Command: "x", Result: Result{ExitCode: 2}}
	assert.Equal(t, "command failed with exit code 2", err.Error())
}
