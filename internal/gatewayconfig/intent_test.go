package gatewayconfig

import (
	"os"
	"path/filepath"
	"testing"

	testutil "github.com/clawnetes/clawnetes/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIntentYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "intent.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
provider: anthropic
model: anthropic/claude-opus-4-6
agent_name: Rex
user_name: Sam
gateway_port: 18790
agents:
  - id: research
    name: Scout
    model: openai/gpt-5
cron_jobs:
  - name: digest
    schedule: "0 8 * * 1-5"
    command: summarize inbox
`), 0o600))

	intent, err := LoadIntent(p)
	require.NoError(t, err)
	assert.Equal(t, "Rex", intent.AgentName)
	assert.Equal(t, 18790, intent.GatewayPort)
	require.Len(t, intent.Agents, 1)
	assert.Equal(t, "Scout", intent.Agents[0].Name)
	require.Len(t, intent.CronJobs, 1)
}

func TestLoadIntentJSON(t *testing.T) {
	p := testutil.TempFile(t, "intent.json", `{"provider":"openai","model":"openai/gpt-5","memory_enabled":true}`)
	intent, err := LoadIntent(p)
	require.NoError(t, err)
	assert.True(t, intent.MemoryEnabled)
	assert.Equal(t, "openai", intent.ProviderOrDefault())
}

func TestParseIntentRejectsUnknownFields(t *testing.T) {
	_, err := ParseIntent([]byte("model: x/y\nmodle: typo\n"), false)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = ParseIntent([]byte(`{"model":"x/y","modle":"typo"}`), true)
	assert.ErrorAs(t, err, &parseErr)
}

func TestValidateIntent(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Intent)
		wantErr string
	}{
		{name: "valid", mutate: func(*Intent) {}},
		{name: "missing model", mutate: func(in *Intent) { in.Model = "" }, wantErr: "model"},
		{name: "port out of range", mutate: func(in *Intent) { in.GatewayPort = 70000 }, wantErr: "gateway_port"},
		{name: "bad tools mode", mutate: func(in *Intent) { in.ToolsMode = "some" }, wantErr: "tools_mode"},
		{name: "bad bot token", mutate: func(in *Intent) { in.TelegramToken = "not a token" }, wantErr: "telegram_token"},
		{name: "path-unsafe agent id", mutate: func(in *Intent) {
			in.Agents = []AgentSpec{{ID: "../etc", Name: "x"}}
		}, wantErr: "id"},
		{name: "duplicate agent id", mutate: func(in *Intent) {
			in.Agents = []AgentSpec{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}
		}, wantErr: "more than once"},
		{name: "bad cron", mutate: func(in *Intent) {
			in.CronJobs = []CronJob{{Name: "x", Schedule: "every day", Command: "y"}}
		}, wantErr: "cron job"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			intent := baseIntent()
			tc.mutate(&intent)
			err := ValidateIntent(intent)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"*/5 * * * *", "0 8 * * 1-5", "@daily", "@every 1h"} {
		assert.NoError(t, ValidateSchedule(ok), ok)
	}
	for _, bad := range []string{"", "* * *", "61 * * * *", "0 0 0 * * *"} {
		assert.Error(t, ValidateSchedule(bad), bad)
	}
}
