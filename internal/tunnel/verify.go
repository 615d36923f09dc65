package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/logging"
	"github.com/clawnetes/clawnetes/internal/sshsession"
)

const (
	DefaultVerifyAttempts = 30
	DefaultVerifyInterval = 2 * time.Second
	verifyHTTPTimeout     = 5 * time.Second
	localProbeTimeout     = 2 * time.Second
)

// RemoteFunc opens an executor on the remote host for one verification
// attempt. The returned release func closes whatever was opened.
type RemoteFunc func(ctx context.Context) (executor.Executor, func(), error)

// SessionRemote returns a RemoteFunc that authenticates a fresh SSH session
// for every attempt.
func SessionRemote(target sshsession.Target) RemoteFunc {
	return func(ctx context.Context) (executor.Executor, func(), error) {
		session, err := sshsession.Connect(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		remote := executor.Remote{Client: session, Name: target.String()}
		return remote, func() { _ = session.Close() }, nil
	}
}

// VerifyOptions controls Verify. Remote is required.
type VerifyOptions struct {
	Port       int
	Attempts   int
	Interval   time.Duration
	Remote     RemoteFunc
	Probe      func(ctx context.Context, port int) error
	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
}

// VerifyResult describes the attempt that proved the tunnel works.
type VerifyResult struct {
	Attempts   int
	StatusCode int
}

// Verify checks the tunnel end to end: the local port accepts connections,
// the gateway process is alive on the remote host, and an authenticated HEAD
// request through the tunnel answers with 2xx or 3xx.
func Verify(ctx context.Context, opts VerifyOptions) (VerifyResult, error) {
	if opts.Remote == nil {
		return VerifyResult{}, errors.New("verify requires a remote executor factory")
	}
	port := opts.Port
	if port <= 0 {
		port = gatewayconfig.DefaultGatewayPort
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultVerifyAttempts
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultVerifyInterval
	}
	probe := opts.Probe
	if probe == nil {
		probe = probeLocal
	}
	client := opts.HTTPClient
	if client == nil {
		client = newVerifyClient()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := logging.OrDiscard(opts.Logger)

	var last error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			if err := sleep(ctx, interval); err != nil {
				return VerifyResult{Attempts: i - 1}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return VerifyResult{Attempts: i - 1}, err
		}
		status, err := verifyOnce(ctx, port, probe, opts.Remote, client)
		if err == nil {
			logger.Info("tunnel verified", "port", port, "attempt", i, "status", status)
			return VerifyResult{Attempts: i, StatusCode: status}, nil
		}
		last = err
		logger.Debug("tunnel verification attempt failed", "attempt", i, "of", attempts, "err", err)
	}
	return VerifyResult{Attempts: attempts}, &VerifyError{Attempts: attempts, Last: last}
}

func verifyOnce(ctx context.Context, port int, probe func(context.Context, int) error, open RemoteFunc, client *http.Client) (int, error) {
	if err := probe(ctx, port); err != nil {
		return 0, fmt.Errorf("local tunnel port %d not reachable: %w", port, err)
	}
	exec, release, err := open(ctx)
	if err != nil {
		return 0, fmt.Errorf("ssh connection failed during verification: %w", err)
	}
	if release != nil {
		defer release()
	}
	if err := remoteGatewayRunning(ctx, exec); err != nil {
		return 0, err
	}
	content, err := executor.Output(ctx, exec, "cat ~/.openclaw/openclaw.json")
	if err != nil {
		return 0, fmt.Errorf("read remote config: %w", err)
	}
	doc, err := gatewayconfig.ParseDocument([]byte(content))
	if err != nil {
		return 0, &gatewayconfig.ParseError{Document: "openclaw.json", Err: err}
	}
	token, ok := doc.Lookup("gateway", "auth", "token").StringOK()
	if !ok || token == "" {
		return 0, errors.New("could not find token in remote openclaw.json")
	}
	return headGateway(ctx, client, port, token)
}

// remoteGatewayRunning looks for the process first and falls back to the
// service status when grep finds nothing.
func remoteGatewayRunning(ctx context.Context, exec executor.Executor) error {
	out, err := executor.Output(ctx, exec, "ps aux | grep openclaw | grep -v grep")
	if err == nil && strings.TrimSpace(out) != "" {
		return nil
	}
	status, err := executor.Output(ctx, exec, "openclaw gateway status")
	if err != nil {
		return errors.New("remote openclaw process not found")
	}
	lower := strings.ToLower(status)
	if strings.Contains(lower, "stopped") || strings.Contains(lower, "error") {
		return fmt.Errorf("remote gateway is not running: %s", strings.TrimSpace(status))
	}
	return nil
}

func headGateway(ctx context.Context, client *http.Client, port int, token string) (int, error) {
	target := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return 0, fmt.Errorf("http connection failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("http status %d", resp.StatusCode)
}

func newVerifyClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	return &http.Client{
		Timeout:   verifyHTTPTimeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func probeLocal(ctx context.Context, port int) error {
	return sshsession.ProbePort(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), localProbeTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
