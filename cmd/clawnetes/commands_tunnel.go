package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/clawnetes/clawnetes/internal/db"
	"github.com/clawnetes/clawnetes/internal/sshsession"
	"github.com/clawnetes/clawnetes/internal/tunnel"
)

func runTunnel(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("tunnel")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var localPort, remotePort int
	var secretsName string
	var noVerify bool
	var help bool
	fs.IntVar(&localPort, "local-port", 0, "local listen port (default gateway_port)")
	fs.IntVar(&remotePort, "gateway-port", 0, "remote gateway port (default gateway_port)")
	fs.StringVar(&secretsName, "secrets", "", "credentials bundle holding the ssh password")
	fs.BoolVar(&noVerify, "no-verify", false, "skip the end-to-end gateway check")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("tunnel --host <host> [--local-port <port>] [--gateway-port <port>] [--no-verify]"), &help); err != nil {
		return err
	}
	if !tf.remote() {
		return newCLIError("tunnel needs a remote host", "", "pass --host user@host")
	}
	if err := tf.validate(); err != nil {
		return err
	}

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.loadSecrets(ctx, secretsName); err != nil {
		return err
	}
	localPort = a.gatewayPort(localPort)
	remotePort = a.gatewayPort(remotePort)

	// Authenticate once up front so credential problems surface before the
	// listener starts accepting.
	session, target, err := a.dialSSH(ctx, tf)
	if err != nil {
		return err
	}
	_ = session.Close()

	connector := &sshsession.Connector{Logger: a.logger}
	relay := &tunnel.Relay{
		Target: target,
		Dialer: func(ctx context.Context, t sshsession.Target) (tunnel.Channeler, error) {
			return connector.Connect(ctx, t)
		},
		Port:         localPort,
		RemotePort:   remotePort,
		PollInterval: a.cfg.TunnelPollInterval,
		Logger:       a.logger,
		Metrics:      a.metrics,
	}
	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer relay.Stop()

	public := target.WithoutSecrets()
	recordID := a.recordTunnel(ctx, public, localPort, remotePort)
	reason := "stopped"
	defer func() { a.closeTunnel(recordID, reason) }()

	stopMetrics, err := a.serveMetrics()
	if err != nil {
		reason = "metrics listener failed"
		return err
	}
	defer stopMetrics()

	if !noVerify {
		res, err := tunnel.Verify(ctx, tunnel.VerifyOptions{
			Port:     localPort,
			Attempts: a.cfg.TunnelVerifyAttempts,
			Interval: a.cfg.TunnelVerifyInterval,
			Remote:   tunnel.SessionRemote(target),
			Logger:   a.logger,
		})
		if err != nil {
			reason = "verification failed"
			return err
		}
		a.logger.Info("tunnel verified", "attempts", res.Attempts, "status", res.StatusCode)
	}

	if opts.jsonOutput {
		_ = writeJSON(stdoutWriter, map[string]any{
			"local":   relay.Addr().String(),
			"remote":  public.String(),
			"port":    remotePort,
			"running": true,
		})
	} else {
		fmt.Fprintf(stdoutWriter, "tunnel: %s -> %s (gateway port %d)\n", relay.Addr(), public.String(), remotePort)
		fmt.Fprintln(stdoutWriter, "press Ctrl-C to stop")
	}

	<-ctx.Done()
	reason = "interrupted"
	return nil
}

func runVerify(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("verify")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var localPort, attempts int
	var interval time.Duration
	var secretsName string
	var help bool
	fs.IntVar(&localPort, "local-port", 0, "local tunnel port (default gateway_port)")
	fs.IntVar(&attempts, "attempts", 0, "attempts before giving up (default tunnel_verify_attempts)")
	fs.DurationVar(&interval, "interval", 0, "pause between attempts (default tunnel_verify_interval)")
	fs.StringVar(&secretsName, "secrets", "", "credentials bundle holding the ssh password")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("verify --host <host> [--local-port <port>] [--attempts <n>] [--interval <d>]"), &help); err != nil {
		return err
	}
	if !tf.remote() {
		return newCLIError("verify needs the tunnel's remote host", "", "pass --host user@host")
	}
	if err := tf.validate(); err != nil {
		return err
	}

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.loadSecrets(ctx, secretsName); err != nil {
		return err
	}
	password, err := a.sshPassword(tf)
	if err != nil {
		return err
	}
	if tf.timeout == 0 {
		tf.timeout = a.cfg.SSHTimeout
	}
	if attempts <= 0 {
		attempts = a.cfg.TunnelVerifyAttempts
	}
	if interval <= 0 {
		interval = a.cfg.TunnelVerifyInterval
	}
	res, err := tunnel.Verify(ctx, tunnel.VerifyOptions{
		Port:     a.gatewayPort(localPort),
		Attempts: attempts,
		Interval: interval,
		Remote:   tunnel.SessionRemote(tf.sshTarget(password)),
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return writeJSON(stdoutWriter, map[string]any{"ok": true, "attempts": res.Attempts, "status": res.StatusCode})
	}
	fmt.Fprintf(stdoutWriter, "gateway reachable through the tunnel (HTTP %d after %d attempt(s))\n", res.StatusCode, res.Attempts)
	return nil
}

func (a *app) recordTunnel(ctx context.Context, target sshsession.Target, localPort, remotePort int) int64 {
	store := a.history()
	if store == nil {
		return 0
	}
	id, err := store.RecordTunnel(ctx, db.Tunnel{Target: target.String(), LocalPort: localPort, RemotePort: remotePort})
	if err != nil {
		a.logger.Warn("record tunnel failed", "err", err)
		return 0
	}
	return id
}

func (a *app) closeTunnel(id int64, reason string) {
	if id == 0 || a.store == nil {
		return
	}
	if err := a.store.CloseTunnel(context.Background(), id, reason, time.Now()); err != nil {
		a.logger.Warn("close tunnel record failed", "id", id, "err", err)
	}
}

// serveMetrics exposes /metrics on the configured loopback address while the
// tunnel runs. An empty metrics_listen disables it.
func (a *app) serveMetrics() (func(), error) {
	addr := a.cfg.MetricsListen
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "err", err)
		}
	}()
	a.logger.Info("metrics listening", "addr", ln.Addr().String())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
