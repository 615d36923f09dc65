package provision

import (
	"context"
	"fmt"
	"path"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

const nodesourceURL = "https://deb.nodesource.com/setup_22.x"

const brewInstall = `NONINTERACTIVE=1 /bin/bash -c "$(curl -fsSL https://raw.githubusercontent.com/Homebrew/install/HEAD/install.sh)"`

const brewShellenv = `eval "$(/opt/homebrew/bin/brew shellenv 2>/dev/null || /usr/local/bin/brew shellenv 2>/dev/null)"`

// Provision takes the host from whatever state it is in to a verified,
// running gateway. Each step checks its postcondition first, so re-running
// after a partial failure resumes where the last run stopped.
func (o *Orchestrator) Provision(ctx context.Context, intent gatewayconfig.Intent) (Report, error) {
	r, err := o.begin(ctx, "provision")
	if err != nil {
		return Report{}, err
	}
	return r.finish(r.provision(intent))
}

func (r *run) provision(intent gatewayconfig.Intent) error {
	h, err := r.detectHost()
	if err != nil {
		return err
	}
	r.reach(StateUnprovisioned)
	if err := r.installRuntime(h); err != nil {
		return err
	}
	r.reach(StateRuntimeInstalled)
	if err := r.installApp(h); err != nil {
		return err
	}
	r.reach(StateAppInstalled)
	if err := r.resolveHome(h); err != nil {
		return err
	}
	r.resetInstall(h, intent.PreserveState)
	if err := r.writeConfig(h, intent); err != nil {
		return err
	}
	r.reach(StateConfigWritten)
	if err := r.startGateway(h, gatewayPort(intent)); err != nil {
		return err
	}
	r.report.DashboardURL = dashboardURL(gatewayPort(intent), r.report.Token)
	return nil
}

// installRuntime installs Node.js only when `node -v` fails.
func (r *run) installRuntime(h *hostInfo) error {
	if version, err := r.output(h.env() + "node -v"); err == nil {
		r.step("install_runtime", StepSkipped, "node "+version+" already installed")
		return nil
	}
	switch h.OS {
	case osLinux:
		commands := []struct{ label, cmd string }{
			{"install curl", h.sudo("apt-get update") + " && " + h.sudo("apt-get install -y curl")},
			{"add NodeSource repository", nodesourceSetup(h)},
			{"install Node.js", h.sudo("apt-get install -y nodejs")},
		}
		for _, c := range commands {
			if _, err := r.exec(c.cmd); err != nil {
				return r.fail("install_runtime", fmt.Errorf("%s: %w", c.label, err))
			}
		}
	case osDarwin:
		if _, err := r.exec(brewShellenv + "; command -v brew"); err != nil {
			if _, err := r.exec(brewInstall); err != nil {
				return r.fail("install_runtime", fmt.Errorf("install Homebrew: %w", err))
			}
			profile := fmt.Sprintf("(echo; echo %s) >> $HOME/.zprofile; (echo; echo %s) >> $HOME/.bash_profile",
				executor.Quote(brewShellenv), executor.Quote(brewShellenv))
			r.bestEffort(profile)
		}
		if _, err := r.exec(brewShellenv + "; brew install node"); err != nil {
			return r.fail("install_runtime", fmt.Errorf("install Node.js via Homebrew: %w", err))
		}
	default:
		return r.fail("install_runtime", fmt.Errorf("%w: %s", ErrUnsupportedOS, h.OS))
	}
	r.step("install_runtime", StepOK, "node installed")
	return nil
}

func nodesourceSetup(h *hostInfo) string {
	if h.Root {
		return "curl -fsSL " + nodesourceURL + " | bash -"
	}
	return "curl -fsSL " + nodesourceURL + " | sudo -n -E bash -"
}

// installApp installs openclaw only when `openclaw --version` fails, then
// confirms the binary is callable.
func (r *run) installApp(h *hostInfo) error {
	check := h.openclaw("--version")
	if version, err := r.output(check); err == nil {
		r.step("install_openclaw", StepSkipped, "openclaw "+version+" already installed")
		return nil
	}
	install := h.env() + "npm install -g openclaw"
	if h.OS == osLinux {
		install = h.env() + h.sudo("npm install -g openclaw")
	}
	if _, err := r.exec(install); err != nil {
		return r.fail("install_openclaw", err)
	}
	version, err := r.output(check)
	if err != nil {
		return r.fail("install_openclaw", fmt.Errorf("openclaw not callable after install: %w", err))
	}
	r.step("install_openclaw", StepOK, "openclaw "+version)
	return nil
}

// resetInstall lets `gateway install --force` lay down a fresh service
// definition. It removes the current config first so the installer does not
// reuse it, and stops the service it starts because the config written next
// is what makes it bootable. Every command is best effort.
func (r *run) resetInstall(h *hostInfo, preserve bool) {
	if preserve {
		r.step("reset_install", StepSkipped, "preserving existing state")
		return
	}
	configPath := path.Join(h.appRoot(), gatewayconfig.ConfigFileName)
	r.bestEffort(h.openclaw("gateway stop || true"))
	r.bestEffort("rm -f " + executor.Quote(configPath) + " || true")
	r.bestEffort(h.openclaw("gateway install --force"))
	r.bestEffort(h.openclaw("gateway stop || true"))
	r.step("reset_install", StepOK, "service definition reinstalled")
}
