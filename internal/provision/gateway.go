package provision

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

// StartGateway restarts the service and waits until port accepts
// connections. A zero port means the default gateway port.
func (o *Orchestrator) StartGateway(ctx context.Context, port int) (Report, error) {
	r, err := o.begin(ctx, "start")
	if err != nil {
		return Report{}, err
	}
	if port <= 0 {
		port = gatewayconfig.DefaultGatewayPort
	}
	h, err := r.detectHost()
	if err != nil {
		return r.finish(err)
	}
	return r.finish(r.startGateway(h, port))
}

func (r *run) startGateway(h *hostInfo, port int) error {
	// Crash loops leave systemd refusing further starts until reset.
	if h.OS == osLinux {
		r.bestEffort("systemctl --user reset-failed openclaw-gateway.service 2>/dev/null || true")
	}
	r.bestEffort(h.openclaw("gateway stop"))
	r.reach(StateServiceStopped)
	if err := r.sleep(r.o.stopPause()); err != nil {
		return err
	}

	if h.OS == osDarwin {
		plist := `"$HOME/Library/LaunchAgents/ai.openclaw.gateway.plist"`
		r.bestEffort(fmt.Sprintf(`[ -f %s ] && launchctl bootstrap gui/$(id -u) %s`, plist, plist))
	}

	res, err := r.exec(h.openclaw("gateway start"))
	if err != nil {
		return r.fail("start_gateway", err)
	}
	combined := strings.ToLower(res.Combined())
	if strings.Contains(combined, "error") || strings.Contains(combined, "failed") {
		return r.fail("start_gateway", &StartError{Output: res.Combined()})
	}
	r.step("start_gateway", StepOK, "")
	r.reach(StateServiceStarted)

	if err := r.sleep(r.o.settle()); err != nil {
		return err
	}
	return r.verifyGateway(h, port)
}

func (r *run) verifyGateway(h *hostInfo, port int) error {
	attempts := r.o.attempts()
	probe := r.o.prober()
	lastStatus := ""
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := probe.Probe(r.ctx, port); err == nil {
			r.step("verify_gateway", StepOK, fmt.Sprintf("port %d reachable after %d attempt(s)", port, attempt))
			r.reach(StateVerified)
			return nil
		}
		status, err := r.output(h.openclaw("gateway status"))
		switch {
		case err != nil:
			lastStatus = fmt.Sprintf("gateway status check failed (attempt %d/%d)", attempt, attempts)
		case strings.Contains(strings.ToLower(status), "starting"), strings.Contains(strings.ToLower(status), "initializing"):
			lastStatus = fmt.Sprintf("gateway is starting (attempt %d/%d)", attempt, attempts)
		default:
			lastStatus = fmt.Sprintf("status: %s | port %d: not accessible", status, port)
		}
		r.logger.Debug("gateway not reachable yet", "attempt", attempt, "status", lastStatus)
		if attempt < attempts {
			if err := r.sleep(r.o.interval()); err != nil {
				return err
			}
		}
	}
	final, err := r.output(h.openclaw("gateway status"))
	if err != nil {
		final = "unable to get status"
	}
	timeout := &VerificationTimeoutError{
		Port:        port,
		Attempts:    attempts,
		LastStatus:  lastStatus,
		FinalStatus: final,
		Remediation: remediation(port),
	}
	r.step("verify_gateway", StepFailed, lastStatus)
	return timeout
}

func dashboardURL(port int, token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/?token=%s", port, url.QueryEscape(token))
}
