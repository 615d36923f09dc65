package provision

import (
	"context"
	"path"
	"strings"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

// NotInstalled is what Version reports when openclaw is not callable.
const NotInstalled = "not installed"

// Prerequisites reports which of node and openclaw are callable.
type Prerequisites struct {
	Node     bool `json:"node_installed"`
	OpenClaw bool `json:"openclaw_installed"`
}

func (o *Orchestrator) CheckPrerequisites(ctx context.Context) (Prerequisites, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return Prerequisites{}, err
	}
	h, err := r.detectHost()
	if err != nil {
		return Prerequisites{}, err
	}
	_, nodeErr := r.exec(h.env() + "node -v")
	_, appErr := r.exec(h.openclaw("--version"))
	return Prerequisites{Node: nodeErr == nil, OpenClaw: appErr == nil}, nil
}

// Version returns the installed openclaw version, or NotInstalled.
func (o *Orchestrator) Version(ctx context.Context) (string, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return "", err
	}
	h, err := r.detectHost()
	if err != nil {
		return "", err
	}
	version, err := r.output(h.openclaw("--version"))
	if err != nil {
		return NotInstalled, nil
	}
	return version, nil
}

// Update reinstalls the latest openclaw and restarts the gateway.
func (o *Orchestrator) Update(ctx context.Context) (Report, error) {
	r, err := o.begin(ctx, "update")
	if err != nil {
		return Report{}, err
	}
	h, err := r.detectHost()
	if err != nil {
		return r.finish(err)
	}
	if _, err := r.exec(h.env() + h.sudo("npm install -g openclaw")); err != nil {
		return r.finish(r.fail("update_openclaw", err))
	}
	r.step("update_openclaw", StepOK, "")
	if _, err := r.exec(h.openclaw("gateway restart")); err != nil {
		return r.finish(r.fail("restart_gateway", err))
	}
	r.step("restart_gateway", StepOK, "")
	return r.finish(nil)
}

// Uninstall stops the gateway, removes the package and deletes the
// application root.
func (o *Orchestrator) Uninstall(ctx context.Context) (Report, error) {
	r, err := o.begin(ctx, "uninstall")
	if err != nil {
		return Report{}, err
	}
	h, err := r.hostWithHome()
	if err != nil {
		return r.finish(err)
	}
	r.bestEffort(h.openclaw("gateway stop"))
	r.step("stop_gateway", StepOK, "")
	if _, err := r.exec(h.env() + h.sudo("npm uninstall -g openclaw")); err != nil {
		return r.finish(r.fail("uninstall_openclaw", err))
	}
	r.step("uninstall_openclaw", StepOK, "")
	root := h.appRoot()
	if path.Base(root) != gatewayconfig.RootDirName || root == "/"+gatewayconfig.RootDirName {
		return r.finish(r.fail("remove_state", &unsafePathError{Path: root}))
	}
	if _, err := r.exec("rm -rf " + executor.Quote(root)); err != nil {
		return r.finish(r.fail("remove_state", err))
	}
	r.step("remove_state", StepOK, root)
	return r.finish(nil)
}

type unsafePathError struct{ Path string }

func (e *unsafePathError) Error() string { return "refusing to remove " + e.Path }

// Doctor runs `openclaw doctor --repair --yes` and returns its output.
func (o *Orchestrator) Doctor(ctx context.Context) (string, error) {
	return o.passthrough(ctx, "doctor --repair --yes")
}

// SecurityAudit runs `openclaw security audit --fix` and returns its output.
func (o *Orchestrator) SecurityAudit(ctx context.Context) (string, error) {
	return o.passthrough(ctx, "security audit --fix")
}

func (o *Orchestrator) passthrough(ctx context.Context, args string) (string, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return "", err
	}
	h, err := r.detectHost()
	if err != nil {
		return "", err
	}
	res, err := r.exec(h.openclaw(args))
	if err != nil {
		return strings.TrimSpace(res.Combined()), err
	}
	return strings.TrimSpace(res.Combined()), nil
}
