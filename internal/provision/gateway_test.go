package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/executor/executortest"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGatewayVerifiesAfterRetries(t *testing.T) {
	fake := linuxHost()
	h := newHarness(fake)
	refused := errors.New("connection refused")
	h.probe.errs = []error{refused, refused, nil}
	h.orch.Interval = time.Second

	report, err := h.orch.StartGateway(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, h.probe.calls)
	assert.Equal(t, []time.Duration{DefaultStopPause, DefaultSettle, time.Second, time.Second}, h.sleeps)
	assert.Equal(t, []State{StateServiceStopped, StateServiceStarted, StateVerified}, report.States)
	assert.Len(t, fake.CallsMatching("openclaw gateway status"), 2)
}

func TestStartGatewayTimeout(t *testing.T) {
	fake := executortest.New().
		On("uname -s", "Linux").
		On("id -u", "1000").
		On("gateway status", "Service: starting")
	h := newHarness(fake)
	h.probe = refusing()
	h.orch.Probe = h.probe
	h.orch.Attempts = 3

	report, err := h.orch.StartGateway(context.Background(), 18789)
	require.Error(t, err)

	var timeout *VerificationTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, 18789, timeout.Port)
	assert.Equal(t, "gateway is starting (attempt 3/3)", timeout.LastStatus)
	assert.Equal(t, "Service: starting", timeout.FinalStatus)
	assert.Len(t, timeout.Remediation, 4)

	msg := err.Error()
	assert.Contains(t, msg, "after 3 attempts")
	assert.Contains(t, msg, "openclaw gateway logs")
	assert.Contains(t, msg, "lsof -i :18789")
	assert.Contains(t, msg, "Service: starting")

	assert.False(t, report.Reached(StateVerified))
	assert.True(t, report.Reached(StateServiceStarted))
	// Interval sleeps happen between attempts only.
	assert.Len(t, h.sleeps, 2+2)
}

func TestStartGatewayStatusUnavailable(t *testing.T) {
	fake := executortest.New().
		On("uname -s", "Linux").
		On("id -u", "1000").
		Fail("gateway status", "no such service")
	h := newHarness(fake)
	h.orch.Probe = refusing()
	h.orch.Attempts = 1

	_, err := h.orch.StartGateway(context.Background(), 0)
	var timeout *VerificationTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "gateway status check failed (attempt 1/1)", timeout.LastStatus)
	assert.Equal(t, "unable to get status", timeout.FinalStatus)
}

func TestStartGatewayStopFailureIsIgnored(t *testing.T) {
	fake := linuxHost().
		Fail("reset-failed", "systemctl: not found").
		Fail("openclaw gateway stop", "service not loaded")
	h := newHarness(fake)

	report, err := h.orch.StartGateway(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, report.Reached(StateVerified))
	assert.True(t, fake.Executed("openclaw gateway start"))
}

func TestStartGatewayOutputSignalsFailure(t *testing.T) {
	fake := linuxHost().On("openclaw gateway start", "Error: gateway.mode is not set")
	h := newHarness(fake)

	_, err := h.orch.StartGateway(context.Background(), 0)
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "gateway.mode is not set")
	assert.Equal(t, 0, h.probe.calls)
}

func TestStartGatewayCommandFailure(t *testing.T) {
	fake := linuxHost().Fail("openclaw gateway start", "unit not found")
	h := newHarness(fake)

	report, err := h.orch.StartGateway(context.Background(), 0)
	var cmdErr *executor.RemoteCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, StepFailed, report.Steps[len(report.Steps)-1].Status)
}

func TestStartGatewayHonoursCancellation(t *testing.T) {
	fake := linuxHost()
	h := newHarness(fake)
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.orch.StartGateway(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, fake.Executed("openclaw gateway start"))
}

func TestVerificationTimeoutErrorMessage(t *testing.T) {
	err := &VerificationTimeoutError{
		Port:        18789,
		Attempts:    8,
		LastStatus:  "status: stopped | port 18789: not accessible",
		Remediation: remediation(18789),
	}
	want := "gateway did not become reachable on port 18789 after 8 attempts\n" +
		"last status: status: stopped | port 18789: not accessible\n\n" +
		"troubleshooting:\n" +
		"  1. check gateway logs: openclaw gateway logs\n" +
		"  2. check gateway status: openclaw gateway status\n" +
		"  3. try a manual start: openclaw gateway stop && openclaw gateway start\n" +
		"  4. check whether port 18789 is in use: lsof -i :18789"
	assert.Equal(t, want, err.Error())
}

func TestDashboardURLEscapesToken(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:18789/?token=a%2Bb", dashboardURL(gatewayconfig.DefaultGatewayPort, "a+b"))
	assert.Equal(t, "", dashboardURL(18789, ""))
}
