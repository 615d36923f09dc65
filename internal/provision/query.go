package provision

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/logging"
)

// DetectState infers how far the host has been provisioned.
func (o *Orchestrator) DetectState(ctx context.Context, port int) (State, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return "", err
	}
	h, err := r.detectHost()
	if err != nil {
		return "", err
	}
	if _, err := r.output(h.env() + "node -v"); err != nil {
		return StateUnprovisioned, nil
	}
	if _, err := r.output(h.openclaw("--version")); err != nil {
		return StateRuntimeInstalled, nil
	}
	if err := r.resolveHome(h); err != nil {
		return "", err
	}
	configPath := path.Join(h.appRoot(), gatewayconfig.ConfigFileName)
	if _, err := r.exec("test -s " + executor.Quote(configPath)); err != nil {
		return StateAppInstalled, nil
	}
	if port <= 0 {
		port = gatewayconfig.DefaultGatewayPort
	}
	if err := o.prober().Probe(ctx, port); err == nil {
		return StateVerified, nil
	}
	status, err := r.output(h.openclaw("gateway status"))
	if err == nil && strings.Contains(strings.ToLower(status), "running") {
		return StateServiceStarted, nil
	}
	return StateConfigWritten, nil
}

// PairingStatus reads the Telegram dmPolicy through the openclaw CLI. A
// failing lookup counts as a pending pairing so the operator is asked to
// pair.
func (o *Orchestrator) PairingStatus(ctx context.Context) (gatewayconfig.PairingState, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return "", err
	}
	h, err := r.detectHost()
	if err != nil {
		return "", err
	}
	policy, err := r.output(h.openclaw("config get channels.telegram.accounts.main.dmPolicy"))
	if err != nil {
		r.logger.Debug("dmPolicy lookup failed", "err", err)
		return gatewayconfig.PairingPending, nil
	}
	return gatewayconfig.PairingFromPolicy(policy), nil
}

var pairingCode = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ApprovePairing approves a Telegram pairing code.
func (o *Orchestrator) ApprovePairing(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if !pairingCode.MatchString(code) {
		return fmt.Errorf("pairing code %q must be letters, digits, '-' or '_'", code)
	}
	r, err := o.quiet(ctx)
	if err != nil {
		return err
	}
	h, err := r.detectHost()
	if err != nil {
		return err
	}
	res, err := r.exec(h.openclaw(executor.Join("pairing", "approve", code, "--channel", "telegram")))
	text := strings.ToLower(res.Combined())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no pending pairing request found") || strings.Contains(text, "no pending pairing request found") {
			return ErrNoPendingPairing
		}
		return err
	}
	if strings.Contains(text, "error") {
		if strings.Contains(text, "no pending pairing request found") {
			return ErrNoPendingPairing
		}
		return errors.New(strings.TrimSpace(res.Combined()))
	}
	return nil
}

// GatewayToken returns gateway.auth.token from the host's config.
func (o *Orchestrator) GatewayToken(ctx context.Context) (string, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return "", err
	}
	h, err := r.hostWithHome()
	if err != nil {
		return "", err
	}
	return r.gatewayToken(h)
}

func (r *run) gatewayToken(h *hostInfo) (string, error) {
	configPath := path.Join(h.appRoot(), gatewayconfig.ConfigFileName)
	raw, err := r.output("cat " + executor.Quote(configPath))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", configPath, err)
	}
	doc, err := gatewayconfig.ParseDocument([]byte(raw))
	if err != nil {
		return "", &gatewayconfig.ParseError{Document: gatewayconfig.ConfigFileName, Err: err}
	}
	token, ok := doc.Lookup("gateway", "auth", "token").StringOK()
	if !ok || token == "" {
		return "", ErrTokenNotFound
	}
	r.o.Redactor.AddValues(token)
	return token, nil
}

// DashboardURL returns the tokenized local dashboard address for port.
func (o *Orchestrator) DashboardURL(ctx context.Context, port int) (string, error) {
	token, err := o.GatewayToken(ctx)
	if err != nil {
		return "", err
	}
	if port <= 0 {
		port = gatewayconfig.DefaultGatewayPort
	}
	return dashboardURL(port, token), nil
}

// ReadCurrentConfig reconstructs the operator view from the host's files.
func (o *Orchestrator) ReadCurrentConfig(ctx context.Context) (gatewayconfig.CurrentConfig, error) {
	r, err := o.quiet(ctx)
	if err != nil {
		return gatewayconfig.CurrentConfig{}, err
	}
	h, err := r.hostWithHome()
	if err != nil {
		return gatewayconfig.CurrentConfig{}, err
	}
	cfg, err := gatewayconfig.Decode(&execSource{r: r, root: h.appRoot()})
	if err != nil {
		return gatewayconfig.CurrentConfig{}, err
	}
	r.o.Redactor.AddValues(cfg.GatewayToken, cfg.APIKey, cfg.TelegramToken)
	return cfg, nil
}

// execSource reads files under root through the executor. Missing files
// read as empty.
type execSource struct {
	r    *run
	root string
}

func (s *execSource) ReadFile(rel string) string {
	out, err := s.r.exec("cat " + executor.Quote(path.Join(s.root, rel)) + " 2>/dev/null")
	if err != nil {
		return ""
	}
	return out.Stdout
}

func (s *execSource) ListDirs(rel string) []string {
	out, err := s.r.exec("ls -1 -F " + executor.Quote(path.Join(s.root, rel)) + " 2>/dev/null")
	if err != nil {
		return nil
	}
	var dirs []string
	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutSuffix(line, "/"); ok && name != "" {
			dirs = append(dirs, name)
		}
	}
	return dirs
}

// quiet starts a run that is not recorded in history or metrics. Queries
// go through it so they share host detection and logging.
func (o *Orchestrator) quiet(ctx context.Context) (*run, error) {
	if o.Exec == nil {
		return nil, errors.New("orchestrator has no executor")
	}
	silent := *o
	silent.History = nil
	silent.Metrics = nil
	target := o.Target
	if target == "" {
		target = o.Exec.Describe()
	}
	r := &run{o: &silent, ctx: ctx, started: o.now(), report: Report{Kind: "query", Target: target}}
	r.logger = logging.OrDiscard(o.Logger).With("target", target)
	return r, nil
}
