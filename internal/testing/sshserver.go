// ABOUTME: In-process SSH server for tests of session auth, remote exec, and tunnels.
// ABOUTME: Supports password/public-key auth, exec requests, and direct-tcpip channels.

package testing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// ExecFunc answers an exec request with stdout, stderr and an exit status.
type ExecFunc func(command string) (stdout, stderr string, status uint32)

// SSHServerOptions configures NewSSHServer.
type SSHServerOptions struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	Exec          ExecFunc
}

// SSHServer is a minimal SSH endpoint bound to 127.0.0.1.
type SSHServer struct {
	Addr string
	Host string
	Port int

	listener net.Listener
	config   *ssh.ServerConfig
	exec     ExecFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	conns    atomic.Int64
	forwards atomic.Int64
}

// NewSSHServer starts a server and stops it when the test ends.
func NewSSHServer(t *testing.T, opts SSHServerOptions) *SSHServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if (opts.User == "" || meta.User() == opts.User) && string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("password rejected")
		}
	}
	if opts.AuthorizedKey != nil {
		want := opts.AuthorizedKey.Marshal()
		config.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if (opts.User == "" || meta.User() == opts.User) && bytes.Equal(key.Marshal(), want) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("key rejected")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	server := &SSHServer{
		Addr:     listener.Addr().String(),
		Host:     addr.IP.String(),
		Port:     addr.Port,
		listener: listener,
		config:   config,
		exec:     opts.Exec,
	}
	server.wg.Add(1)
	go server.serve()
	t.Cleanup(server.Close)
	return server
}

// Close stops accepting and waits for the accept loop.
func (s *SSHServer) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

// Commands returns every exec command received so far.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Connections counts completed handshakes.
func (s *SSHServer) Connections() int {
	return int(s.conns.Load())
}

// Forwards counts accepted direct-tcpip channels.
func (s *SSHServer) Forwards() int {
	return int(s.forwards.Load())
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.conns.Add(1)
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			go s.handleSession(newChannel)
		case "direct-tcpip":
			go s.handleForward(newChannel)
		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *SSHServer) handleSession(newChannel ssh.NewChannel) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer channel.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)
		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		var stdout, stderr string
		var status uint32
		if s.exec != nil {
			stdout, stderr, status = s.exec(payload.Command)
		}
		_, _ = io.WriteString(channel, stdout)
		_, _ = io.WriteString(channel.Stderr(), stderr)
		_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{Status: status}))
		return
	}
}

func (s *SSHServer) handleForward(newChannel ssh.NewChannel) {
	var payload struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	channel, requests, err := newChannel.Accept()
	if err != nil {
		_ = target.Close()
		return
	}
	s.forwards.Add(1)
	go ssh.DiscardRequests(requests)

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = channel.Close()
			_ = target.Close()
		})
	}
	go func() {
		_, _ = io.Copy(target, channel)
		closeBoth()
	}()
	_, _ = io.Copy(channel, target)
	closeBoth()
}

// WriteClientKey generates an ed25519 key pair, writes the private key in
// OpenSSH PEM form to dir/name, and returns its path and public key.
func WriteClientKey(t *testing.T, dir, name string) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return path, signer.PublicKey()
}
