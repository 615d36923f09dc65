package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawnetes/clawnetes/internal/metrics"
	"github.com/clawnetes/clawnetes/internal/sshsession"
	testutil "github.com/clawnetes/clawnetes/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackChanneler dials directly instead of through an SSH channel.
type loopbackChanneler struct {
	closed *atomic.Int64
}

func (c loopbackChanneler) Dial(network, addr string) (net.Conn, error) {
	return net.Dial(network, addr)
}

func (c loopbackChanneler) Close() error {
	c.closed.Add(1)
	return nil
}

func loopbackDialer(dials, closed *atomic.Int64) SessionDialer {
	return func(ctx context.Context, target sshsession.Target) (Channeler, error) {
		dials.Add(1)
		return loopbackChanneler{closed: closed}, nil
	}
}

func newTestRelay(t *testing.T, remotePort int) (*Relay, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	var dials, closed atomic.Int64
	r := &Relay{
		Target:     sshsession.Target{Host: "gateway.example", User: "sam"},
		Dialer:     loopbackDialer(&dials, &closed),
		Port:       testutil.FreePort(t),
		RemotePort: remotePort,
	}
	t.Cleanup(r.Stop)
	return r, &dials, &closed
}

func dialRelay(t *testing.T, r *Relay) net.Conn {
	t.Helper()
	addr := r.Addr()
	require.NotNil(t, addr, "relay is not listening")
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was not closed by the relay")
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, _ := newTestRelay(t, echo.Port)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsRunning())

	err := r.Start(context.Background())
	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, r.Port, already.Port)

	r.Stop()
	assert.False(t, r.IsRunning())
	assert.Nil(t, r.Addr())

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsRunning())
	roundTrip(t, dialRelay(t, r), "again")
}

func TestStartBindFailureLeavesRelayStopped(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	r := &Relay{Port: busy.Addr().(*net.TCPAddr).Port}
	err = r.Start(context.Background())
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.False(t, r.IsRunning())

	require.NoError(t, busy.Close())
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}

func TestStartRejectsInvalidPort(t *testing.T) {
	r := &Relay{Port: 0}
	require.Error(t, r.Start(context.Background()))
	assert.False(t, r.IsRunning())
}

func TestConcurrentStartAndStop(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, _ := newTestRelay(t, echo.Port)
	r.PollInterval = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := r.Start(context.Background())
			var already *AlreadyRunningError
			if err != nil && !errors.As(err, &already) {
				t.Errorf("start: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()

	r.Stop()
	assert.False(t, r.IsRunning())
	assert.Nil(t, r.Addr())
	require.NoError(t, r.Start(context.Background()))
	roundTrip(t, dialRelay(t, r), "settled")
}

func TestRelayUsesFreshSessionPerConnection(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, dials, _ := newTestRelay(t, echo.Port)
	require.NoError(t, r.Start(context.Background()))

	first := dialRelay(t, r)
	second := dialRelay(t, r)
	roundTrip(t, first, "one")
	roundTrip(t, second, "two")

	assert.Equal(t, int64(2), dials.Load())
	assert.Equal(t, 2, echo.Accepted())
	assert.Equal(t, 2, r.ActiveConnections())
}

func TestRelayEndsWhenLocalSideCloses(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, closed := newTestRelay(t, echo.Port)
	require.NoError(t, r.Start(context.Background()))

	keep := dialRelay(t, r)
	drop := dialRelay(t, r)
	roundTrip(t, keep, "keep")
	roundTrip(t, drop, "drop")
	require.Equal(t, 2, r.ActiveConnections())

	require.NoError(t, drop.Close())
	assert.Eventually(t, func() bool { return r.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), closed.Load())

	roundTrip(t, keep, "still here")
}

func TestRelayEndsWhenRemoteSideCloses(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, _ := newTestRelay(t, echo.Port)
	require.NoError(t, r.Start(context.Background()))

	conn := dialRelay(t, r)
	roundTrip(t, conn, "ping")

	echo.DropAll()
	expectClosed(t, conn)
	assert.Eventually(t, func() bool { return r.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.IsRunning())
}

func TestStopEndsActivePairs(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, _ := newTestRelay(t, echo.Port)
	require.NoError(t, r.Start(context.Background()))

	conn := dialRelay(t, r)
	roundTrip(t, conn, "ping")

	r.Stop()
	assert.Equal(t, 0, r.ActiveConnections())
	expectClosed(t, conn)

	_, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port)), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestContextCancellationStopsRelay(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	r, _, _ := newTestRelay(t, echo.Port)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return !r.IsRunning() }, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	require.NoError(t, r.Start(context.Background()))
}

func TestSessionFailureClosesClient(t *testing.T) {
	m := metrics.New()
	r := &Relay{
		Port:    testutil.FreePort(t),
		Metrics: m,
		Dialer: func(ctx context.Context, target sshsession.Target) (Channeler, error) {
			return nil, &sshsession.AuthenticationError{Target: "sam@gateway", Tried: []string{"password"}}
		},
	}
	t.Cleanup(r.Stop)
	require.NoError(t, r.Start(context.Background()))

	conn := dialRelay(t, r)
	expectClosed(t, conn)
	assert.True(t, r.IsRunning())
	assert.Eventually(t, func() bool {
		return containsMetric(t, m, `clawnetes_tunnel_connections_total{result="session_failed"} 1`)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelayCountsBytes(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	m := metrics.New()
	r, _, _ := newTestRelay(t, echo.Port)
	r.Metrics = m
	require.NoError(t, r.Start(context.Background()))

	conn := dialRelay(t, r)
	roundTrip(t, conn, "0123456789")
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return r.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, containsMetric(t, m, `clawnetes_tunnel_bytes_total{direction="upstream"} 10`))
	assert.True(t, containsMetric(t, m, `clawnetes_tunnel_bytes_total{direction="downstream"} 10`))
	assert.True(t, containsMetric(t, m, "clawnetes_tunnel_active_connections 0"))
}

func TestRelayOverSSHChannel(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	echo := testutil.NewEchoServer(t)
	server := testutil.NewSSHServer(t, testutil.SSHServerOptions{User: "sam", Password: "pw"})
	home := t.TempDir()

	r := &Relay{
		Target: sshsession.Target{Host: server.Host, Port: server.Port, User: "sam", Password: "pw"},
		Dialer: func(ctx context.Context, target sshsession.Target) (Channeler, error) {
			connector := &sshsession.Connector{Home: home}
			return connector.Connect(ctx, target)
		},
		Port:       testutil.FreePort(t),
		RemotePort: echo.Port,
	}
	t.Cleanup(r.Stop)
	require.NoError(t, r.Start(context.Background()))

	first := dialRelay(t, r)
	roundTrip(t, first, "through ssh")
	second := dialRelay(t, r)
	roundTrip(t, second, "second pair")

	assert.Equal(t, 2, server.Connections())
	assert.Equal(t, 2, server.Forwards())

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return r.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)
	roundTrip(t, second, "unaffected")
}

func containsMetric(t *testing.T, m *metrics.Metrics, line string) bool {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return strings.Contains(rec.Body.String(), line)
}
