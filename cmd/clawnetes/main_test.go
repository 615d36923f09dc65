package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGlobalStopsAtCommand(t *testing.T) {
	opts, args, err := parseGlobal([]string{"--json", "--config", "/tmp/c.yaml", "status", "--host", "sam@gw", "--json"})
	require.NoError(t, err)
	assert.True(t, opts.jsonOutput)
	assert.Equal(t, "/tmp/c.yaml", opts.configPath)
	assert.Equal(t, []string{"status", "--host", "sam@gw", "--json"}, args)
}

func TestParseGlobalRejectsUnknownFlag(t *testing.T) {
	_, _, err := parseGlobal([]string{"--bogus"})
	require.Error(t, err)
}

func TestRunVersion(t *testing.T) {
	h := newCLIHarness(t)
	assert.Equal(t, 0, run([]string{"--version"}))
	assert.True(t, strings.HasPrefix(h.stdout.String(), "clawnetes version="), h.stdout.String())
}

func TestRunExitCodes(t *testing.T) {
	h := newCLIHarness(t)

	assert.Equal(t, 2, run([]string{"--bogus"}))
	assert.Contains(t, h.stderr.String(), "hint: run clawnetes --help for usage")

	assert.Equal(t, 1, run([]string{"--config", h.configPath, "histroy"}))
	assert.Contains(t, h.stderr.String(), `error: unknown command "histroy"`)
	assert.Contains(t, h.stderr.String(), "next: clawnetes --help")

	assert.Equal(t, 0, run([]string{"--help"}))
	assert.Contains(t, h.stdout.String(), "Target Flags")

	assert.Equal(t, 0, run([]string{"--config", h.configPath, "status", "--help"}))
	assert.Contains(t, h.stdout.String(), "Usage: clawnetes status")
}

func TestRunJSONErrors(t *testing.T) {
	h := newCLIHarness(t)
	assert.Equal(t, 1, run([]string{"--json", "--config", h.configPath, "status"}))
	assert.Contains(t, h.stderr.String(), `"error": "no target selected"`)
	assert.Contains(t, h.stderr.String(), `"pass --host <host>, --local or --wsl"`)
}

func TestSuggestCommand(t *testing.T) {
	assert.Equal(t, []string{`did you mean "history"?`}, suggestCommand("hist"))
	assert.Equal(t, []string{`did you mean "tunnel"?`}, suggestCommand("tunnels"))
	assert.Nil(t, suggestCommand("xyz"))
	assert.Nil(t, suggestCommand(" "))
}
