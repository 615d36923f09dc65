package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clawnetes/clawnetes/internal/db"
	"github.com/clawnetes/clawnetes/internal/provision"
	"github.com/clawnetes/clawnetes/internal/redact"
	"github.com/clawnetes/clawnetes/internal/telegram"
	testutil "github.com/clawnetes/clawnetes/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIntent = `model: anthropic/claude-opus-4-6
api_key: sk-ant-cli-test-key
telegram_token: "123456:ABCdef"
agent_name: Rex
user_name: Sam
`

const hostConfig = `{
  "gateway": {"port": 18789, "bind": "loopback", "auth": {"mode": "token", "token": "GatewayTokenSecret0123"}},
  "channels": {"telegram": {"accounts": {"main": {"botToken": "123456:ABCdef", "dmPolicy": "pairing"}}}}
}`

func TestConfigureRecordsHistory(t *testing.T) {
	h := newCLIHarness(t)
	intent := h.writeFile("intent.yaml", testIntent)

	require.NoError(t, h.run("configure", "--intent", intent, "--host", "sam@gw"))

	assert.Equal(t, []string{"123456:ABCdef"}, h.telegram)
	assert.Equal(t, 1, h.opened)
	assert.True(t, h.fake.Executed("> /home/sam/.openclaw/openclaw.json"))
	assert.False(t, h.fake.Executed("gateway start"))

	out := h.stdout.String()
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "(configure on sam@gateway.test:22)")
	assert.NotContains(t, out, "sk-ant-cli-test-key")
	assert.NotContains(t, h.stderr.String(), "sk-ant-cli-test-key")

	var runs []db.Run
	h.runJSON(&runs, "history")
	require.Len(t, runs, 1)
	assert.Equal(t, "configure", runs[0].Kind)
	assert.Equal(t, "ok", runs[0].Status)
	assert.Equal(t, "sam@gateway.test:22", runs[0].Target)
	require.NotNil(t, runs[0].FinishedAt)

	require.NoError(t, h.run("history", "show", runs[0].ID))
	assert.Contains(t, h.stdout.String(), "kind:     configure")
	assert.Contains(t, h.stdout.String(), "status:   ok")

	var detail struct {
		Run   db.Run    `json:"run"`
		Steps []db.Step `json:"steps"`
	}
	h.runJSON(&detail, "history", "show", runs[0].ID)
	assert.Equal(t, runs[0].ID, detail.Run.ID)
	require.NotEmpty(t, detail.Steps)
	assert.Equal(t, 1, detail.Steps[0].Seq)
	for _, step := range detail.Steps {
		assert.NotContains(t, step.Detail, "sk-ant-cli-test-key")
	}
}

func TestConfigureTelegramRejected(t *testing.T) {
	h := newCLIHarness(t)
	intent := h.writeFile("intent.yaml", testIntent)
	validateTelegram = func(ctx context.Context, token string, opts telegram.Options) (telegram.Bot, error) {
		return telegram.Bot{}, errors.New("telegram getMe: Unauthorized")
	}

	err := h.run("configure", "--intent", intent, "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram bot token rejected")
	_, _, hints := describeError(err)
	assert.Contains(t, hints, "pass --skip-telegram-check when the host cannot reach api.telegram.org")
	assert.Zero(t, h.opened)

	require.NoError(t, h.run("configure", "--intent", intent, "--local", "--skip-telegram-check"))
	assert.Equal(t, 1, h.opened)
}

func TestIntentCommandArguments(t *testing.T) {
	h := newCLIHarness(t)

	err := h.run("provision", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--intent is required")

	intent := h.writeFile("intent.yaml", testIntent)
	err = h.run("configure", "--intent", intent, "--local", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected arguments: extra")

	bad := h.writeFile("bad.yaml", "model: x\nunknown_field: 1\n")
	err = h.run("configure", "--intent", bad, "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_field")
	assert.Zero(t, h.opened)
}

func TestStatusJSON(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("node -v", "v22.3.0").On("openclaw --version", "2026.2.8")

	var out map[string]any
	h.runJSON(&out, "status", "--host", "sam@gw")
	assert.Equal(t, "verified", out["state"])
	assert.Equal(t, true, out["node_installed"])
	assert.Equal(t, true, out["openclaw_installed"])
	assert.Equal(t, "2026.2.8", out["openclaw_version"])
	assert.Equal(t, float64(18789), out["gateway_port"])
	assert.Equal(t, "sam@gateway.test:22", out["target"])
}

func TestStatusUnprovisioned(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.Fail("node -v", "node: not found").Fail("openclaw --version", "openclaw: not found")

	require.NoError(t, h.run("status", "--local", "--gateway-port", "19000"))
	out := h.stdout.String()
	assert.Contains(t, out, "state:     unprovisioned")
	assert.Contains(t, out, "openclaw:  "+provision.NotInstalled)
	assert.Contains(t, out, "port:      19000")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("cat /home/sam/.openclaw/openclaw.json", hostConfig)

	var masked map[string]any
	h.runJSON(&masked, "config", "show", "--host", "sam@gw")
	assert.Equal(t, redact.Marker, masked["gateway_token"])
	assert.Equal(t, redact.Marker, masked["telegram_token"])
	assert.Equal(t, "pairing", masked["pairing_state"])

	var clear map[string]any
	h.runJSON(&clear, "config", "show", "--host", "sam@gw", "--show-secrets")
	assert.Equal(t, "GatewayTokenSecret0123", clear["gateway_token"])

	require.NoError(t, h.run("config", "show", "--host", "sam@gw"))
	assert.Contains(t, h.stdout.String(), "gateway token: "+redact.Marker)

	err := h.run("config", "dump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config command "dump"`)
}

func TestPairingCommands(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("dmPolicy", "pairing").On("pairing approve ABC123 --channel telegram", "Approved")

	require.NoError(t, h.run("pairing", "status", "--host", "sam@gw"))
	assert.Contains(t, h.stdout.String(), "pairing: pairing")
	assert.Contains(t, h.stdout.String(), "clawnetes pairing approve <code>")

	before := len(h.stdout.String())
	require.NoError(t, dispatch(context.Background(), []string{"pairing", "status", "--host", "sam@gw"}, commonFlags{configPath: h.configPath, jsonOutput: true}))
	testutil.AssertJSONEqual(t, `{"pairing_state":"pairing","is_paired":false}`, h.stdout.String()[before:])

	require.NoError(t, h.run("pairing", "approve", "ABC123", "--host", "sam@gw"))
	assert.Contains(t, h.stdout.String(), "pairing approved")

	require.NoError(t, h.run("pairing", "approve", "--host", "sam@gw", "ABC123"))
	assert.Len(t, h.fake.CallsMatching("pairing approve ABC123"), 2)

	err := h.run("pairing", "approve", "--host", "sam@gw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pairing code is required")
}

func TestPairingApproveWithoutPendingRequest(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.Fail("pairing approve", "Error: No pending pairing request found")

	err := h.run("pairing", "approve", "XYZ", "--local")
	require.ErrorIs(t, err, provision.ErrNoPendingPairing)
	_, next, _ := describeError(err)
	assert.Equal(t, "send a message to the bot, then approve the code it replies with", next)
}

func TestDashboard(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("cat /home/sam/.openclaw/openclaw.json", hostConfig)

	require.NoError(t, h.run("dashboard", "--host", "sam@gw", "--gateway-port", "19000"))
	assert.Equal(t, "http://127.0.0.1:19000/?token=GatewayTokenSecret0123\n", h.stdout.String())

	var out map[string]string
	h.runJSON(&out, "dashboard", "--local")
	assert.Equal(t, "http://127.0.0.1:18789/?token=GatewayTokenSecret0123", out["url"])
}

func TestDashboardWithoutToken(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("cat /home/sam/.openclaw/openclaw.json", `{"gateway":{"auth":{}}}`)

	err := h.run("dashboard", "--local")
	require.ErrorIs(t, err, provision.ErrTokenNotFound)
}

func TestMaintenanceVersionAndDoctor(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.On("openclaw --version", "2026.2.8").On("openclaw doctor --repair --yes", "all checks passed")

	require.NoError(t, h.run("maintenance", "version", "--local"))
	assert.Equal(t, "2026.2.8\n", h.stdout.String())

	var out map[string]string
	h.runJSON(&out, "maintenance", "doctor", "--local")
	assert.Equal(t, map[string]string{"command": "doctor", "output": "all checks passed"}, out)

	err := h.run("maintenance", "reboot", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown maintenance command "reboot"`)
}

func TestMaintenanceUninstallRequiresConfirmation(t *testing.T) {
	h := newCLIHarness(t)

	err := h.run("maintenance", "uninstall", "--local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-interactive")
	assert.Zero(t, h.opened)
	assert.Empty(t, h.fake.Calls())

	require.NoError(t, h.run("maintenance", "uninstall", "--local", "--force"))
	assert.True(t, h.fake.Executed("npm uninstall -g openclaw"))
	assert.True(t, h.fake.Executed("rm -rf /home/sam/.openclaw"))
	assert.Less(t, h.fake.Index("gateway stop"), h.fake.Index("rm -rf"))
	assert.Contains(t, h.stdout.String(), "remove_state")
	assert.Contains(t, h.stdout.String(), "(uninstall on ")
}

func TestMaintenanceUpdateFailure(t *testing.T) {
	h := newCLIHarness(t)
	h.fake.Fail("npm install -g openclaw", "EACCES")

	err := h.run("maintenance", "update", "--local")
	require.Error(t, err)
	assert.Contains(t, h.stdout.String(), "update_openclaw")
	assert.False(t, h.fake.Executed("gateway restart"))

	var runs []db.Run
	h.runJSON(&runs, "history")
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Contains(t, runs[0].Error, "EACCES")
}

func TestWSLList(t *testing.T) {
	h := newCLIHarness(t)
	orig := listDistros
	t.Cleanup(func() { listDistros = orig })
	listDistros = func(ctx context.Context) ([]byte, error) {
		return []byte("docker-desktop\nUbuntu-22.04\nDebian\n"), nil
	}

	require.NoError(t, h.run("wsl", "list"))
	assert.Equal(t, "  docker-desktop\n* Ubuntu-22.04\n  Debian\n", h.stdout.String())

	var out struct {
		Distros []string `json:"distros"`
		Default string   `json:"default"`
	}
	h.runJSON(&out, "wsl", "list")
	assert.Equal(t, []string{"docker-desktop", "Ubuntu-22.04", "Debian"}, out.Distros)
	assert.Equal(t, "Ubuntu-22.04", out.Default)

	listDistros = func(ctx context.Context) ([]byte, error) {
		return nil, errors.New(`exec: "wsl": executable file not found in $PATH`)
	}
	err := h.run("wsl", "list")
	require.Error(t, err)
	_, _, hints := describeError(err)
	assert.Contains(t, hints, "WSL is only available on Windows hosts")
}

func TestHistoryEmptyAndMissing(t *testing.T) {
	h := newCLIHarness(t)

	require.NoError(t, h.run("history"))
	assert.Contains(t, h.stdout.String(), "no runs recorded")

	var runs []db.Run
	h.runJSON(&runs, "history")
	assert.Empty(t, runs)

	require.NoError(t, h.run("history", "tunnels"))
	assert.Contains(t, h.stdout.String(), "no tunnels recorded")

	err := h.run("history", "show", "missing-run")
	require.ErrorIs(t, err, db.ErrNotFound)
	assert.Contains(t, err.Error(), "run missing-run not found")

	err = h.run("history", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run id is required")

	err = h.run("history", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit must be positive")
}

func TestRunHistoryAdapter(t *testing.T) {
	h := newCLIHarness(t)
	a, err := newApp(commonFlags{configPath: h.configPath})
	require.NoError(t, err)
	t.Cleanup(a.close)
	store := a.history()
	require.NotNil(t, store)

	rec := runHistory{store: store}
	ctx := context.Background()
	require.NoError(t, rec.StartRun(ctx, provision.RunInfo{ID: "run-1", Kind: "provision", Target: "local"}))
	require.NoError(t, rec.RecordStep(ctx, "run-1", provision.Step{Name: "detect_os", Status: provision.StepOK, Detail: "Linux"}))
	require.NoError(t, rec.RecordStep(ctx, "run-1", provision.Step{Name: "install_runtime", Status: provision.StepSkipped}))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	steps, err := store.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "detect_os", steps[0].Name)
	assert.Equal(t, "skipped", steps[1].Status)
	assert.Equal(t, 2, steps[1].Seq)

	require.Error(t, rec.RecordStep(ctx, "no-such-run", provision.Step{Name: "x", Status: provision.StepOK}))

	require.NoError(t, rec.FinishRun(ctx, "run-1", "failed", "install_runtime: boom", run.StartedAt.Add(3*time.Second)))
	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "install_runtime: boom", run.Error)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, "3s", duration(run.StartedAt, run.FinishedAt))
}
