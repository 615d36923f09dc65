// ABOUTME: Per-invocation wiring: config, logging, secrets, history and the execution context.
// ABOUTME: Commands build an app once and ask it for orchestrators and connections.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clawnetes/clawnetes/internal/config"
	"github.com/clawnetes/clawnetes/internal/db"
	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/logging"
	"github.com/clawnetes/clawnetes/internal/metrics"
	"github.com/clawnetes/clawnetes/internal/provision"
	"github.com/clawnetes/clawnetes/internal/redact"
	"github.com/clawnetes/clawnetes/internal/secrets"
	"github.com/clawnetes/clawnetes/internal/sshsession"
)

type app struct {
	cfg      config.Config
	opts     commonFlags
	logger   *slog.Logger
	redactor *redact.Redactor
	metrics  *metrics.Metrics
	bundle   secrets.Bundle

	store     *db.Store
	storeOpen bool
}

func newApp(base commonFlags) (*app, error) {
	cfg, err := config.Load(base.configPath)
	if err != nil {
		return nil, wrapCLIError(err, err.Error(), "fix the config file or pass --config")
	}
	if _, statErr := os.Stat(cfg.ConfigPath); statErr == nil {
		warn, err := config.CheckConfigPermissions(cfg.ConfigPath)
		if err != nil {
			return nil, wrapCLIError(err, err.Error(), "chmod 600 "+cfg.ConfigPath)
		}
		if warn != "" {
			fmt.Fprintln(stderrWriter, "warning: "+warn)
		}
	}
	level := cfg.LogLevel
	if strings.TrimSpace(base.logLevel) != "" {
		if _, err := logging.ParseLevel(base.logLevel); err != nil {
			return nil, newCLIError(err.Error(), "", "levels: debug, info, warn, error")
		}
		level = base.logLevel
	}
	redactor := redact.New()
	return &app{
		cfg:      cfg,
		opts:     base,
		logger:   logging.New(level, stderrWriter, redactor),
		redactor: redactor,
		metrics:  metrics.New(),
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

// history opens the run history database on first use. A database that
// cannot be opened disables history for this invocation.
func (a *app) history() *db.Store {
	if a.storeOpen {
		return a.store
	}
	a.storeOpen = true
	store, err := db.Open(a.cfg.DBPath)
	if err != nil {
		a.logger.Warn("run history disabled", "path", a.cfg.DBPath, "err", err)
		return nil
	}
	a.store = store
	return store
}

// loadSecrets decrypts a credentials bundle and registers its values with
// the redactor before anything can log them.
func (a *app) loadSecrets(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	store := secrets.Store{
		Dir:            a.cfg.SecretsDir,
		AgeKeyPath:     a.cfg.AgeKeyPath,
		AllowPlaintext: a.cfg.AllowPlaintextSecrets,
	}
	if _, statErr := os.Stat(a.cfg.AgeKeyPath); statErr == nil {
		warn, err := config.CheckPermissions("age key", a.cfg.AgeKeyPath)
		if err != nil {
			return wrapCLIError(err, err.Error(), "chmod 600 "+a.cfg.AgeKeyPath)
		}
		if warn != "" {
			a.logger.Warn(warn)
		}
	}
	bundle, err := store.Load(ctx, name)
	if err != nil {
		return wrapCLIError(err, err.Error(), "check --secrets and age_key_path in the config",
			"bundles are looked up in "+a.cfg.SecretsDir)
	}
	a.bundle = bundle
	a.redactor.AddValues(bundle.Values()...)
	return nil
}

// loadIntent reads and validates an intent file, fills gaps from the loaded
// bundle and registers its secrets with the redactor.
func (a *app) loadIntent(path string) (gatewayconfig.Intent, error) {
	if strings.TrimSpace(path) == "" {
		return gatewayconfig.Intent{}, newCLIError("--intent is required", "", "see docs for the intent file format")
	}
	intent, err := gatewayconfig.LoadIntent(path)
	if err != nil {
		return gatewayconfig.Intent{}, wrapCLIError(err, err.Error(), "fix the intent file and re-run")
	}
	a.adoptIntent(&intent)
	return intent, nil
}

// adoptIntent fills gaps from the loaded bundle and registers the intent's
// secrets with the redactor.
func (a *app) adoptIntent(intent *gatewayconfig.Intent) {
	a.bundle.Apply(intent)
	a.redactor.AddValues(intent.APIKey, intent.TelegramToken)
	for _, value := range intent.ServiceKeys {
		a.redactor.AddValues(value)
	}
}

// connection is an open execution context.
type connection struct {
	exec   executor.Executor
	label  string
	target *sshsession.Target
	probe  provision.PortProber
	close  func()
}

// openConnection is replaced in tests.
var openConnection = func(ctx context.Context, a *app, tf targetFlags) (*connection, error) {
	return a.connect(ctx, tf)
}

func (a *app) connect(ctx context.Context, tf targetFlags) (*connection, error) {
	if err := tf.validate(); err != nil {
		return nil, err
	}
	switch {
	case tf.local:
		local := executor.LocalShell{}
		return &connection{
			exec:  local,
			label: "local",
			probe: provision.DialProber{},
			close: func() {},
		}, nil
	case tf.wsl:
		distro := tf.distro
		if distro == "" {
			distro = executor.DetectDistro(ctx)
		}
		wsl := executor.WSL{Distro: distro}
		return &connection{
			exec:  wsl,
			label: "wsl:" + distro,
			probe: provision.CommandProber{Exec: wsl},
			close: func() {},
		}, nil
	}
	session, target, err := a.dialSSH(ctx, tf)
	if err != nil {
		return nil, err
	}
	remote := executor.Remote{Client: session, Name: target.String()}
	public := target.WithoutSecrets()
	return &connection{
		exec:   remote,
		label:  target.String(),
		target: &target,
		probe:  provision.CommandProber{Exec: remote},
		close: func() {
			if err := session.Close(); err != nil {
				a.logger.Debug("close ssh session", "target", public.String(), "err", err)
			}
		},
	}, nil
}

// dialSSH authenticates against the --host target. When every strategy
// fails and a terminal is attached, the operator is asked for a password
// once.
func (a *app) dialSSH(ctx context.Context, tf targetFlags) (*sshsession.Session, sshsession.Target, error) {
	password, err := a.sshPassword(tf)
	if err != nil {
		return nil, sshsession.Target{}, err
	}
	if tf.timeout == 0 {
		tf.timeout = a.cfg.SSHTimeout
	}
	target := tf.sshTarget(password)
	connector := &sshsession.Connector{Logger: a.logger}
	session, err := connector.Connect(ctx, target)
	var authErr *sshsession.AuthenticationError
	if err != nil && errors.As(err, &authErr) && password == "" && tf.identity == "" && isInteractive() {
		prompted, perr := readSecret(fmt.Sprintf("Password for %s: ", target.String()))
		if perr != nil {
			return nil, target, perr
		}
		a.redactor.AddValues(prompted)
		target.Password = prompted
		session, err = connector.Connect(ctx, target)
	}
	if err != nil {
		return nil, target, err
	}
	a.logger.Info("ssh connected", "target", target.String(), "method", session.Method())
	return session, target, nil
}

func (a *app) sshPassword(tf targetFlags) (string, error) {
	if tf.passwordStdin {
		password, err := readPasswordLine(stdinReader)
		if err != nil {
			return "", err
		}
		a.redactor.AddValues(password)
		return password, nil
	}
	return a.bundle.SSHPassword, nil
}

// orchestrator wires a provision.Orchestrator to this invocation's logger,
// metrics, redactor and history.
func (a *app) orchestrator(conn *connection) *provision.Orchestrator {
	o := &provision.Orchestrator{
		Exec:     conn.exec,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Redactor: a.redactor,
		Probe:    conn.probe,
		Target:   conn.label,
		Attempts: a.cfg.VerifyAttempts,
		Interval: a.cfg.VerifyInterval,
	}
	if store := a.history(); store != nil {
		o.History = runHistory{store: store}
	}
	return o
}

func (a *app) gatewayPort(flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return a.cfg.GatewayPort
}
