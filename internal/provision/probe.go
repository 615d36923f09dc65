package provision

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/sshsession"
)

// PortProber checks whether the gateway port accepts connections.
type PortProber interface {
	Probe(ctx context.Context, port int) error
}

// DialProber dials Host:port from this process.
type DialProber struct {
	Host    string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context, port int) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return sshsession.ProbePort(ctx, net.JoinHostPort(host, strconv.Itoa(port)), timeout)
}

// CommandProber checks the port from inside the execution context, for
// gateways bound to the remote loopback.
type CommandProber struct {
	Exec executor.Executor
}

func (p CommandProber) Probe(ctx context.Context, port int) error {
	cmd := fmt.Sprintf("curl -s -o /dev/null --max-time 2 http://127.0.0.1:%d/ || bash -c 'exec 3<>/dev/tcp/127.0.0.1/%d'", port, port)
	_, err := p.Exec.Execute(ctx, cmd)
	return err
}
