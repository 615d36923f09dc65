package sshsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var defaultKeyNames = []string{"id_rsa", "id_ed25519"}

// strategy is one authentication attempt. prepare may return a cleanup func
// even when it fails; the caller always runs it.
type strategy struct {
	name    string
	prepare func(ctx context.Context) ([]ssh.AuthMethod, func(), error)
}

func (c *Connector) strategies(target Target) []strategy {
	if keyPath := strings.TrimSpace(target.KeyPath); keyPath != "" {
		return c.explicitKeyStrategies(expandHome(keyPath, c.home()))
	}
	var out []strategy
	if sock := c.agentSocket(); sock != "" {
		out = append(out, strategy{name: "agent", prepare: agentMethods(sock)})
	}
	if home := c.home(); home != "" {
		for _, name := range defaultKeyNames {
			path := filepath.Join(home, ".ssh", name)
			if !fileExists(path) {
				continue
			}
			out = append(out, strategy{name: name, prepare: keyFileMethods(path)})
		}
	}
	if target.Password != "" {
		out = append(out, strategy{name: "password", prepare: passwordMethods(target.Password)})
	}
	return out
}

// explicitKeyStrategies tries the key alone, then with its adjacent .pub
// file, then with a public key derived by ssh-keygen.
func (c *Connector) explicitKeyStrategies(path string) []strategy {
	derive := c.DerivePublicKey
	if derive == nil {
		derive = deriveWithKeygen
	}
	return []strategy{
		{name: "key", prepare: keyFileMethods(path)},
		{name: "key+pub", prepare: func(context.Context) ([]ssh.AuthMethod, func(), error) {
			signer, err := loadSigner(path)
			if err != nil {
				return nil, nil, err
			}
			pubPath := path + ".pub"
			data, err := os.ReadFile(pubPath)
			if err != nil {
				return nil, nil, fmt.Errorf("read public key %s: %w", pubPath, err)
			}
			signer, err = pairWithPublicKey(signer, data)
			if err != nil {
				return nil, nil, err
			}
			return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
		}},
		{name: "key+derived", prepare: func(ctx context.Context) ([]ssh.AuthMethod, func(), error) {
			signer, err := loadSigner(path)
			if err != nil {
				return nil, nil, err
			}
			derived, err := derive(ctx, path)
			if err != nil {
				return nil, nil, err
			}
			tmp, err := os.CreateTemp("", "clawnetes-derived-*.pub")
			if err != nil {
				return nil, nil, fmt.Errorf("create temp public key: %w", err)
			}
			cleanup := func() { _ = os.Remove(tmp.Name()) }
			if _, err := tmp.Write(derived); err != nil {
				_ = tmp.Close()
				return nil, cleanup, fmt.Errorf("write temp public key: %w", err)
			}
			if err := tmp.Close(); err != nil {
				return nil, cleanup, fmt.Errorf("close temp public key: %w", err)
			}
			data, err := os.ReadFile(tmp.Name())
			if err != nil {
				return nil, cleanup, err
			}
			signer, err = pairWithPublicKey(signer, data)
			if err != nil {
				return nil, cleanup, err
			}
			return []ssh.AuthMethod{ssh.PublicKeys(signer)}, cleanup, nil
		}},
	}
}

func keyFileMethods(path string) func(context.Context) ([]ssh.AuthMethod, func(), error) {
	return func(context.Context) ([]ssh.AuthMethod, func(), error) {
		signer, err := loadSigner(path)
		if err != nil {
			return nil, nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}
}

func agentMethods(sock string) func(context.Context) ([]ssh.AuthMethod, func(), error) {
	return func(ctx context.Context) ([]ssh.AuthMethod, func(), error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("connect ssh agent: %w", err)
		}
		cleanup := func() { _ = conn.Close() }
		signers, err := agent.NewClient(conn).Signers()
		if err != nil {
			return nil, cleanup, fmt.Errorf("list agent identities: %w", err)
		}
		if len(signers) == 0 {
			return nil, cleanup, errors.New("ssh agent has no identities")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, cleanup, nil
	}
}

func passwordMethods(password string) func(context.Context) ([]ssh.AuthMethod, func(), error) {
	return func(context.Context) ([]ssh.AuthMethod, func(), error) {
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(password), ssh.KeyboardInteractive(answer)}, nil, nil
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return signer, nil
}

// pairWithPublicKey checks that an authorized-key line belongs to signer.
// Certificates are attached to the signer instead.
func pairWithPublicKey(signer ssh.Signer, authorizedKey []byte) (ssh.Signer, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(authorizedKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if cert, ok := pub.(*ssh.Certificate); ok {
		return ssh.NewCertSigner(cert, signer)
	}
	if !bytes.Equal(pub.Marshal(), signer.PublicKey().Marshal()) {
		return nil, errors.New("public key does not match private key")
	}
	return signer, nil
}

func deriveWithKeygen(ctx context.Context, keyPath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-y", "-P", "", "-f", keyPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ssh-keygen -y failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
