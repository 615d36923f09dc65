package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/executor/executortest"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *fakeProber) Probe(_ context.Context, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	if len(p.errs) > 1 {
		p.errs = p.errs[1:]
	}
	return err
}

func refusing() *fakeProber {
	return &fakeProber{errs: []error{errors.New("connection refused")}}
}

type stepCount struct {
	step, status string
}

type fakeRecorder struct {
	steps   []stepCount
	results []string
}

func (f *fakeRecorder) IncStep(step, status string) {
	f.steps = append(f.steps, stepCount{step, status})
}

func (f *fakeRecorder) ObserveProvision(result string, _ time.Duration) {
	f.results = append(f.results, result)
}

type fakeHistory struct {
	runs     []RunInfo
	steps    map[string][]Step
	finished map[string]string
	errText  string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{steps: map[string][]Step{}, finished: map[string]string{}}
}

func (f *fakeHistory) StartRun(_ context.Context, run RunInfo) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeHistory) RecordStep(_ context.Context, runID string, step Step) error {
	f.steps[runID] = append(f.steps[runID], step)
	return nil
}

func (f *fakeHistory) FinishRun(_ context.Context, runID, status, errText string, _ time.Time) error {
	f.finished[runID] = status
	f.errText = errText
	return nil
}

type harness struct {
	fake   *executortest.FakeExecutor
	probe  *fakeProber
	sleeps []time.Duration
	orch   *Orchestrator
}

func newHarness(fake *executortest.FakeExecutor) *harness {
	h := &harness{fake: fake, probe: &fakeProber{}}
	h.orch = &Orchestrator{
		Exec:     fake,
		Probe:    h.probe,
		Redactor: redact.New(),
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	}
	return h
}

func linuxHost() *executortest.FakeExecutor {
	return executortest.New().
		On("uname -s", "Linux").
		On("id -u", "1000").
		On("echo $HOME", "/home/sam").
		On("gateway status", "running")
}

func baseIntent() gatewayconfig.Intent {
	return gatewayconfig.Intent{
		Provider:  "anthropic",
		APIKey:    "sk-ant-test-key",
		Model:     "anthropic/claude-opus-4-6",
		AgentName: "Rex",
		UserName:  "Sam",
	}
}

func TestProvisionFreshLinuxHost(t *testing.T) {
	fake := linuxHost().
		Fail("node -v", "node: not found").
		Fail("openclaw --version", "openclaw: not found").Times(1).
		On("openclaw --version", "2026.2.8")
	h := newHarness(fake)
	rec := &fakeRecorder{}
	hist := newFakeHistory()
	h.orch.Metrics = rec
	h.orch.History = hist

	report, err := h.orch.Provision(context.Background(), baseIntent())
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateUnprovisioned, StateRuntimeInstalled, StateAppInstalled, StateConfigWritten,
		StateServiceStopped, StateServiceStarted, StateVerified,
	}, report.States)
	assert.Equal(t, "Linux", report.OS)
	assert.Len(t, report.Token, gatewayconfig.TokenLength)
	assert.Equal(t, "http://127.0.0.1:18789/?token="+report.Token, report.DashboardURL)

	// Runtime install order and sudo use.
	aptUpdate := fake.Index("sudo -n apt-get update")
	nodesource := fake.Index("setup_22.x | sudo -n -E bash -")
	nodejs := fake.Index("sudo -n apt-get install -y nodejs")
	require.NotEqual(t, -1, aptUpdate)
	assert.Less(t, aptUpdate, nodesource)
	assert.Less(t, nodesource, nodejs)
	assert.True(t, fake.Executed("sudo -n npm install -g openclaw"))

	// Reset happens before the config write.
	rm := fake.Index("rm -f /home/sam/.openclaw/openclaw.json")
	install := fake.Index("openclaw gateway install --force")
	write := fake.Index("> /home/sam/.openclaw/openclaw.json && chmod 600 /home/sam/.openclaw/openclaw.json")
	require.NotEqual(t, -1, write)
	assert.Less(t, rm, install)
	assert.Less(t, install, write)
	assert.True(t, fake.Executed("mkdir -p /home/sam/.openclaw /home/sam/.openclaw/workspace"))
	assert.True(t, fake.Executed("> /home/sam/.openclaw/agents/main/agent/auth-profiles.json && chmod 600"))
	assert.True(t, fake.Executed("> /home/sam/.openclaw/workspace/IDENTITY.md && chmod 644"))

	// Lifecycle reset before start.
	reset := fake.Index("reset-failed openclaw-gateway.service")
	start := fake.Index("openclaw gateway start")
	assert.Less(t, write, reset)
	assert.Less(t, reset, start)
	assert.False(t, fake.Executed("launchctl"))
	assert.Equal(t, []time.Duration{DefaultStopPause, DefaultSettle}, h.sleeps)

	// Step accounting.
	names := map[string]StepStatus{}
	for _, s := range report.Steps {
		names[s.Name] = s.Status
	}
	assert.Equal(t, StepOK, names["install_runtime"])
	assert.Equal(t, StepOK, names["install_openclaw"])
	assert.Equal(t, StepOK, names["reset_install"])
	assert.Equal(t, StepOK, names["verify_gateway"])
	assert.Len(t, rec.steps, len(report.Steps))
	assert.Equal(t, []string{"ok"}, rec.results)
	require.Len(t, hist.runs, 1)
	assert.Equal(t, report.RunID, hist.runs[0].ID)
	assert.Equal(t, "ok", hist.finished[report.RunID])
	assert.Len(t, hist.steps[report.RunID], len(report.Steps))
}

func TestProvisionSkipsInstalledComponents(t *testing.T) {
	fake := linuxHost().On("node -v", "v22.3.0").On("openclaw --version", "2026.2.8")
	h := newHarness(fake)

	report, err := h.orch.Provision(context.Background(), baseIntent())
	require.NoError(t, err)

	assert.False(t, fake.Executed("apt-get"))
	assert.False(t, fake.Executed("npm install -g"))
	require.GreaterOrEqual(t, len(report.Steps), 3)
	assert.Equal(t, Step{Name: "install_runtime", Status: StepSkipped, Detail: "node v22.3.0 already installed"}, report.Steps[1])
	assert.Equal(t, StepSkipped, report.Steps[2].Status)
}

func TestProvisionAsRootSkipsSudo(t *testing.T) {
	fake := executortest.New().
		On("uname -s", "Linux").
		On("id -u", "0").
		On("echo $HOME", "/root").
		Fail("node -v", "missing").
		On("openclaw --version", "1.0.0")
	h := newHarness(fake)

	_, err := h.orch.Provision(context.Background(), baseIntent())
	require.NoError(t, err)
	assert.False(t, fake.Executed("sudo"))
	assert.True(t, fake.Executed("setup_22.x | bash -"))
	assert.True(t, fake.Executed("> /root/.openclaw/openclaw.json"))
}

func TestProvisionDarwin(t *testing.T) {
	fake := executortest.New().
		On("uname -s", "Darwin").
		On("id -u", "501").
		On("echo $HOME", "/Users/sam").
		Fail("node -v", "missing").
		Fail("command -v brew", "").
		On("openclaw --version", "1.0.0")
	h := newHarness(fake)

	_, err := h.orch.Provision(context.Background(), baseIntent())
	require.NoError(t, err)

	assert.True(t, fake.Executed("NONINTERACTIVE=1"))
	assert.True(t, fake.Executed("brew install node"))
	assert.True(t, fake.Executed("launchctl bootstrap gui/$(id -u)"))
	assert.False(t, fake.Executed("apt-get"))
	assert.False(t, fake.Executed("reset-failed"))
	assert.True(t, fake.Executed("brew shellenv"))
}

func TestProvisionRuntimeInstallFailureIsFatal(t *testing.T) {
	fake := linuxHost().
		Fail("node -v", "missing").
		Fail("apt-get update", "E: Could not get lock /var/lib/dpkg/lock-frontend")
	h := newHarness(fake)
	hist := newFakeHistory()
	h.orch.History = hist

	report, err := h.orch.Provision(context.Background(), baseIntent())
	require.Error(t, err)
	var cmdErr *executor.RemoteCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "Could not get lock")
	assert.Contains(t, err.Error(), "install curl")
	assert.False(t, fake.Executed("setup_22.x"))
	assert.False(t, fake.Executed("openclaw --version"))

	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, "install_runtime", last.Name)
	assert.Equal(t, StepFailed, last.Status)
	assert.Equal(t, "failed", hist.finished[report.RunID])
	assert.Contains(t, hist.errText, "Could not get lock")
}

func TestProvisionUnsupportedOS(t *testing.T) {
	fake := executortest.New().
		On("uname -s", "FreeBSD").
		On("id -u", "1000").
		Fail("node -v", "missing")
	h := newHarness(fake)

	_, err := h.orch.Provision(context.Background(), baseIntent())
	require.ErrorIs(t, err, ErrUnsupportedOS)
	assert.Contains(t, err.Error(), "FreeBSD")
}

func TestProvisionPreserveStateSkipsReset(t *testing.T) {
	fake := linuxHost().On("node -v", "v22").On("openclaw --version", "1.0.0")
	h := newHarness(fake)
	intent := baseIntent()
	intent.PreserveState = true

	report, err := h.orch.Provision(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, fake.Executed("gateway install --force"))
	assert.False(t, fake.Executed("rm -f"))
	assert.True(t, fake.Executed("> /home/sam/.openclaw/openclaw.json"))
	assert.Contains(t, report.Steps, Step{Name: "reset_install", Status: StepSkipped, Detail: "preserving existing state"})
}

func TestConfigurePreservesExistingToken(t *testing.T) {
	const token = "PreservedGatewayToken0123456789a"
	fake := linuxHost().
		On("cat /home/sam/.openclaw/openclaw.json", `{"gateway":{"auth":{"mode":"token","token":"`+token+`"}}}`)
	h := newHarness(fake)
	intent := baseIntent()
	intent.PreserveState = true
	intent.TelegramToken = "123456:ABCdef"

	report, err := h.orch.Configure(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, token, report.Token)
	assert.Equal(t, []State{StateConfigWritten}, report.States)
	assert.False(t, fake.Executed("node -v"))
	assert.False(t, fake.Executed("gateway start"))
	writes := fake.CallsMatching("> /home/sam/.openclaw/openclaw.json")
	require.Len(t, writes, 1)
	assert.Contains(t, writes[0], `"token": "`+token+`"`)
	assert.Contains(t, writes[0], `"dmPolicy": "allowlist"`)
	assert.True(t, fake.Executed("openclaw plugins enable telegram"))

	for _, s := range report.Steps {
		assert.NotContains(t, s.Detail, token)
	}
}

func TestConfigureOptionalSteps(t *testing.T) {
	fake := linuxHost().Fail("npx clawhub install broken-skill", "404")
	h := newHarness(fake)
	intent := baseIntent()
	intent.NodeManager = "pnpm"
	intent.Skills = []string{"weather", "broken-skill"}
	intent.Agents = []gatewayconfig.AgentSpec{{ID: "ops", Name: "Ops", Model: "openai/gpt-5", Skills: []string{"weather", "github"}}}

	report, err := h.orch.Configure(context.Background(), intent)
	require.NoError(t, err)

	assert.True(t, fake.Executed("openclaw config set skills.nodeManager pnpm"))
	assert.Len(t, fake.CallsMatching("npx clawhub install"), 3)
	assert.False(t, fake.Executed("plugins enable telegram"))
	assert.Contains(t, report.Steps, Step{Name: "install_skills", Status: StepWarn, Detail: "failed: broken-skill"})
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "broken-skill")
	assert.True(t, fake.Executed("mkdir -p"))
	assert.True(t, fake.Executed("/home/sam/.openclaw/agents/ops/workspace"))
}

func TestConfigureWriteFailureIsFatal(t *testing.T) {
	fake := linuxHost().Fail("printf", "No space left on device")
	h := newHarness(fake)

	_, err := h.orch.Configure(context.Background(), baseIntent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No space left on device")
	assert.Len(t, fake.CallsMatching("printf"), 1)
}

func TestWriteFileCommandQuotesContent(t *testing.T) {
	cmd := writeFileCommand(gatewayconfig.File{Path: "/home/sam/.openclaw/workspace/SOUL.md", Content: "it's $HOME", Mode: 0o644})
	assert.Equal(t, `printf '%s' 'it'\''s $HOME' > /home/sam/.openclaw/workspace/SOUL.md && chmod 644 /home/sam/.openclaw/workspace/SOUL.md`, cmd)
}

func TestRequestedSkillsDeduplicates(t *testing.T) {
	intent := gatewayconfig.Intent{
		Skills: []string{"b", " a ", ""},
		Agents: []gatewayconfig.AgentSpec{{ID: "x", Skills: []string{"a", "c"}}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, requestedSkills(intent))
}

func TestOrchestratorRequiresExecutor(t *testing.T) {
	_, err := (&Orchestrator{}).Provision(context.Background(), baseIntent())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "executor"))
}
