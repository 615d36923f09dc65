package provision

import (
	"fmt"
	"path"
	"strings"

	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

const (
	osLinux  = "Linux"
	osDarwin = "Darwin"
)

// envDarwin loads Homebrew and nvm so non-login SSH shells find node.
const envDarwin = `eval "$(/opt/homebrew/bin/brew shellenv 2>/dev/null || /usr/local/bin/brew shellenv 2>/dev/null)"; export NVM_DIR="$HOME/.nvm"; [ -s "$NVM_DIR/nvm.sh" ] && \. "$NVM_DIR/nvm.sh"; `

const envLinux = `export PATH="$PATH:/usr/local/bin"; . ~/.profile 2>/dev/null; export NVM_DIR="$HOME/.nvm"; [ -s "$NVM_DIR/nvm.sh" ] && \. "$NVM_DIR/nvm.sh"; `

type hostInfo struct {
	OS   string
	Root bool
	Home string
}

// env returns the shell prefix that makes node and openclaw resolvable.
func (h *hostInfo) env() string {
	if h.OS == osDarwin {
		return envDarwin
	}
	return envLinux
}

// sudo prefixes command for non-root users.
func (h *hostInfo) sudo(command string) string {
	if h.Root {
		return command
	}
	return "sudo -n " + command
}

func (h *hostInfo) openclaw(args string) string {
	return h.env() + "openclaw " + args
}

func (h *hostInfo) appRoot() string {
	return path.Join(h.Home, gatewayconfig.RootDirName)
}

// detectHost probes the OS family and uid. It runs once per run.
func (r *run) detectHost() (*hostInfo, error) {
	if r.host != nil {
		return r.host, nil
	}
	osName, err := r.output("uname -s")
	if err != nil {
		return nil, r.fail("detect_os", err)
	}
	uid, err := r.output("id -u")
	if err != nil {
		return nil, r.fail("detect_os", err)
	}
	h := &hostInfo{OS: strings.TrimSpace(osName), Root: strings.TrimSpace(uid) == "0"}
	r.report.OS = h.OS
	r.step("detect_os", StepOK, fmt.Sprintf("%s uid=%s", h.OS, strings.TrimSpace(uid)))
	r.host = h
	return h, nil
}

// resolveHome fills in the home directory once the app is callable.
func (r *run) resolveHome(h *hostInfo) error {
	if h.Home != "" {
		return nil
	}
	home := strings.TrimRight(strings.TrimSpace(r.o.Home), "/")
	if home == "" {
		out, err := r.output("echo $HOME")
		if err != nil {
			return r.fail("resolve_home", err)
		}
		home = strings.TrimRight(strings.TrimSpace(out), "/")
	}
	if home == "" || !strings.HasPrefix(home, "/") {
		return r.fail("resolve_home", fmt.Errorf("unusable home directory %q", home))
	}
	h.Home = home
	return nil
}

// hostWithHome detects the OS and resolves home, for entry points that only
// query or configure.
func (r *run) hostWithHome() (*hostInfo, error) {
	h, err := r.detectHost()
	if err != nil {
		return nil, err
	}
	if err := r.resolveHome(h); err != nil {
		return nil, err
	}
	return h, nil
}
