// ABOUTME: Local TCP listener that forwards each connection over its own SSH channel.
// ABOUTME: One liveness flag gates the accept loop and every active relay pair.

// Package tunnel exposes a remote gateway port on the operator's loopback
// interface.
//
// A Relay owns one listener and any number of relay pairs. Each accepted
// connection authenticates a fresh SSH session and opens a direct-tcpip
// channel to the gateway port on the remote host, so sessions are never
// shared between connections. Clearing the liveness flag makes every loop
// exit within one poll interval.
package tunnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawnetes/clawnetes/internal/logging"
	"github.com/clawnetes/clawnetes/internal/metrics"
	"github.com/clawnetes/clawnetes/internal/sshsession"
)

const (
	// DefaultPollInterval bounds how long a loop may take to notice Stop.
	DefaultPollInterval = 10 * time.Millisecond
	bufferSize          = 16 * 1024
)

// Channeler opens channels from the remote host. *sshsession.Session
// satisfies it.
type Channeler interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// SessionDialer authenticates a new session for one accepted connection.
type SessionDialer func(ctx context.Context, target sshsession.Target) (Channeler, error)

// ConnectSession is the default SessionDialer.
func ConnectSession(ctx context.Context, target sshsession.Target) (Channeler, error) {
	return sshsession.Connect(ctx, target)
}

// Relay is the lifecycle object for one tunnel. The zero value is stopped.
type Relay struct {
	Target       sshsession.Target
	Dialer       SessionDialer
	Port         int
	RemotePort   int
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics

	running atomic.Bool
	active  atomic.Int64
	// lifecycle serializes Start and Stop so wg.Add never overlaps wg.Wait.
	lifecycle sync.Mutex
	mu        sync.Mutex
	listener  *net.TCPListener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Start binds 127.0.0.1:Port and begins accepting connections. It returns
// once the listener is bound; relaying continues until Stop is called or ctx
// is done.
func (r *Relay) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.Port <= 0 || r.Port > 65535 {
		return errors.New("tunnel port must be between 1 and 65535")
	}
	if !r.running.CompareAndSwap(false, true) {
		return &AlreadyRunningError{Port: r.Port}
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.running.Store(false)
		return &BindError{Address: addr, Err: err}
	}
	tcp := ln.(*net.TCPListener)
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.listener = tcp
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger().Info("tunnel listening", "addr", addr, "target", r.Target.String(), "remote_port", r.remotePort())
	go r.acceptLoop(runCtx, tcp)
	return nil
}

// Stop clears the liveness flag, closes the listener and waits for the
// accept loop and every relay pair to exit. Stopping a stopped relay is a
// no-op. Concurrent calls to Start and Stop are serialized.
func (r *Relay) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.running.Store(false)
	r.mu.Lock()
	ln, cancel := r.listener, r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.releaseListener(ln)
	r.wg.Wait()
}

// IsRunning reports the liveness flag.
func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

// ActiveConnections reports how many relay pairs are currently open.
func (r *Relay) ActiveConnections() int {
	return int(r.active.Load())
}

// Addr returns the bound listener address, or nil when stopped.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Relay) acceptLoop(ctx context.Context, ln *net.TCPListener) {
	defer r.wg.Done()
	defer r.releaseListener(ln)
	logger := r.logger()
	for r.running.Load() {
		if ctx.Err() != nil {
			r.running.Store(false)
			break
		}
		_ = ln.SetDeadline(time.Now().Add(r.pollInterval()))
		conn, err := ln.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if r.running.Load() {
				logger.Warn("tunnel accept failed", "err", err)
				r.running.Store(false)
			}
			break
		}
		r.wg.Add(1)
		go r.serve(ctx, conn)
	}
	logger.Info("tunnel stopped", "port", r.Port)
}

func (r *Relay) serve(ctx context.Context, local *net.TCPConn) {
	defer r.wg.Done()
	logger := r.logger().With("client", local.RemoteAddr().String())

	session, err := r.dialer()(ctx, r.Target)
	if err != nil {
		_ = local.Close()
		r.Metrics.IncTunnelConnection("session_failed")
		logger.Warn("tunnel session failed", "err", err)
		return
	}
	remoteAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(r.remotePort()))
	remote, err := session.Dial("tcp", remoteAddr)
	if err != nil {
		_ = local.Close()
		_ = session.Close()
		r.Metrics.IncTunnelConnection("channel_failed")
		logger.Warn("tunnel channel failed", "remote", remoteAddr, "err", err)
		return
	}

	r.Metrics.IncTunnelConnection("ok")
	r.Metrics.TunnelConnectionOpened()
	r.active.Add(1)
	logger.Debug("tunnel pair open", "remote", remoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.copyRemote(local, remote)
	}()
	reason := r.copyLocal(local, remote, done)

	_ = local.Close()
	_ = remote.Close()
	_ = session.Close()
	<-done

	r.active.Add(-1)
	r.Metrics.TunnelConnectionClosed()
	logger.Debug("tunnel pair closed", "reason", reason)
}

// copyLocal polls the local socket with short read deadlines so the flag and
// the remote side are observed between reads.
func (r *Relay) copyLocal(local *net.TCPConn, remote net.Conn, remoteDone <-chan struct{}) string {
	buf := make([]byte, bufferSize)
	poll := r.pollInterval()
	for {
		if !r.running.Load() {
			return "stopped"
		}
		select {
		case <-remoteDone:
			return ErrChannelClosed.Error()
		default:
		}
		_ = local.SetReadDeadline(time.Now().Add(poll))
		n, err := local.Read(buf)
		if n > 0 {
			if _, werr := remote.Write(buf[:n]); werr != nil {
				return "remote write: " + werr.Error()
			}
			r.Metrics.AddTunnelBytes("upstream", n)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return "local closed"
			}
			return "local read: " + err.Error()
		}
	}
}

// copyRemote blocks on the channel, which has no deadlines, and ends when
// either side is closed.
func (r *Relay) copyRemote(local *net.TCPConn, remote net.Conn) {
	buf := make([]byte, bufferSize)
	for {
		n, err := remote.Read(buf)
		if n > 0 {
			if _, werr := local.Write(buf[:n]); werr != nil {
				return
			}
			r.Metrics.AddTunnelBytes("downstream", n)
		}
		if err != nil {
			return
		}
	}
}

// releaseListener closes ln and forgets it if it is still the current
// listener. A relay restarted after ctx cancellation keeps its new listener.
func (r *Relay) releaseListener(ln *net.TCPListener) {
	if ln == nil {
		return
	}
	_ = ln.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == ln {
		r.listener = nil
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	}
}

func (r *Relay) dialer() SessionDialer {
	if r.Dialer != nil {
		return r.Dialer
	}
	return ConnectSession
}

func (r *Relay) remotePort() int {
	if r.RemotePort > 0 {
		return r.RemotePort
	}
	return r.Port
}

func (r *Relay) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

func (r *Relay) logger() *slog.Logger {
	return logging.OrDiscard(r.Logger)
}
