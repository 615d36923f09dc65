// Package secrets loads the credentials that feed a provisioning run.
//
// Operator intent files stay free of credentials; the provider API key, the
// Telegram bot token, the SSH password and service keys live in a bundle
// instead. The package supports:
//
//   - age encryption (default)
//   - sops encryption (optional, requires sops binary)
//   - Plaintext fallback for development, when explicitly allowed
//
// Bundles are decrypted in-memory and never written to disk in plaintext.
// The bundle format is versioned for future compatibility.
package secrets

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"filippo.io/age"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"gopkg.in/yaml.v3"
)

const (
	// BundleVersion is the current bundle format version.
	BundleVersion = 1
)

// Bundle describes decrypted secrets content.
type Bundle struct {
	Version       int               `json:"version" yaml:"version"`
	APIKey        string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TelegramToken string            `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`
	SSHPassword   string            `json:"ssh_password,omitempty" yaml:"ssh_password,omitempty"`
	ServiceKeys   map[string]string `json:"service_keys,omitempty" yaml:"service_keys,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Apply overlays the bundle's credentials onto intent. Values already set in
// the intent win, so a bundle only fills gaps.
func (b Bundle) Apply(intent *gatewayconfig.Intent) {
	if intent == nil {
		return
	}
	if intent.APIKey == "" {
		intent.APIKey = b.APIKey
	}
	if intent.TelegramToken == "" {
		intent.TelegramToken = b.TelegramToken
	}
	if len(b.ServiceKeys) == 0 {
		return
	}
	if intent.ServiceKeys == nil {
		intent.ServiceKeys = make(map[string]string, len(b.ServiceKeys))
	}
	for key, value := range b.ServiceKeys {
		if _, ok := intent.ServiceKeys[key]; !ok {
			intent.ServiceKeys[key] = value
		}
	}
}

// Values lists every secret value in the bundle, sorted, for registration
// with a redactor.
func (b Bundle) Values() []string {
	values := make([]string, 0, 3+len(b.ServiceKeys))
	for _, v := range []string{b.APIKey, b.TelegramToken, b.SSHPassword} {
		if v != "" {
			values = append(values, v)
		}
	}
	for _, v := range b.ServiceKeys {
		if v != "" {
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values
}

// Store locates and decrypts secrets bundles.
//
// The Store searches for bundle files in the configured directory and
// decrypts them using the configured method (age, sops, or plaintext).
type Store struct {
	Dir            string
	AgeKeyPath     string
	SopsPath       string
	AllowPlaintext bool
	SopsDecrypt    func(ctx context.Context, path string, env []string) ([]byte, error)
}

// Load locates, decrypts, and parses the bundle by name or path.
//
// The name can be:
//   - A bundle name (searched in the configured secrets directory)
//   - An absolute path to a bundle file
//   - A relative path (resolved from the current directory)
//
// The file is decrypted based on its extension:
//   - .age: decrypted using age with the configured identity
//   - .sops: decrypted using sops binary
//   - .yaml/.json: loaded as plaintext (if AllowPlaintext is true)
func (s Store) Load(ctx context.Context, name string) (Bundle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Bundle{}, errors.New("bundle name is required")
	}
	path, err := s.resolvePath(name)
	if err != nil {
		return Bundle{}, err
	}
	payload, err := s.decrypt(ctx, path)
	if err != nil {
		return Bundle{}, err
	}
	bundle, err := ParseBundle(payload)
	if err != nil {
		return Bundle{}, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	return bundle, nil
}

// Seal encrypts bundle for the given age recipients and writes it to w.
func Seal(w io.Writer, bundle Bundle, recipients ...age.Recipient) error {
	if len(recipients) == 0 {
		return errors.New("at least one age recipient is required")
	}
	if bundle.Version == 0 {
		bundle.Version = BundleVersion
	}
	payload, err := yaml.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	writer, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := writer.Write(payload); err != nil {
		return fmt.Errorf("write age payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close age writer: %w", err)
	}
	return nil
}

// ParseRecipients reads age public keys, one per line. Comments and blank
// lines are ignored.
func ParseRecipients(data []byte) ([]age.Recipient, error) {
	var out []age.Recipient
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		recipient, err := age.ParseX25519Recipient(line)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		out = append(out, recipient)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age recipients: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("no age recipients found")
	}
	return out, nil
}

func (s Store) resolvePath(name string) (string, error) {
	candidates := []string{}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		if s.Dir != "" {
			candidates = append(candidates, filepath.Join(s.Dir, name))
		}
		candidates = append(candidates, name)
	}
	if filepath.Ext(name) != "" {
		for _, candidate := range candidates {
			if fileExists(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("bundle %s not found", name)
	}
	for _, candidate := range candidates {
		if path, ok := findBundleFile(candidate, s.AllowPlaintext); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("bundle %s not found", name)
}

func (s Store) decrypt(ctx context.Context, path string) ([]byte, error) {
	lower := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(lower, ".age") {
		return decryptAge(path, s.AgeKeyPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	if looksLikeSops(lower, data) {
		return s.decryptSops(ctx, path)
	}
	if s.AllowPlaintext {
		return data, nil
	}
	return nil, fmt.Errorf("bundle %s is not encrypted (.age or sops); set allow_plaintext_secrets to use it", path)
}

func (s Store) decryptSops(ctx context.Context, path string) ([]byte, error) {
	if s.SopsDecrypt != nil {
		return s.SopsDecrypt(ctx, path, s.sopsEnv())
	}
	return decryptSops(ctx, s.sopsPath(), path, s.sopsEnv())
}

func (s Store) sopsPath() string {
	if strings.TrimSpace(s.SopsPath) != "" {
		return s.SopsPath
	}
	return "sops"
}

func (s Store) sopsEnv() []string {
	if strings.TrimSpace(s.AgeKeyPath) == "" {
		return nil
	}
	return []string{"SOPS_AGE_KEY_FILE=" + s.AgeKeyPath}
}

func findBundleFile(base string, allowPlain bool) (string, bool) {
	candidates := []string{
		base + ".age",
		base + ".sops.yaml",
		base + ".sops.yml",
		base + ".sops.json",
	}
	if allowPlain {
		candidates = append(candidates,
			base+".yaml",
			base+".yml",
			base+".json",
		)
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func looksLikeSops(name string, data []byte) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, ".sops.") || strings.HasSuffix(lower, ".sops") {
		return true
	}
	if bytes.Contains(data, []byte("\nsops:")) {
		return true
	}
	return bytes.Contains(data, []byte(`"sops"`))
}

// ParseBundle decodes a plaintext YAML bundle. A missing version means the
// current one.
func ParseBundle(data []byte) (Bundle, error) {
	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return Bundle{}, err
	}
	if bundle.Version == 0 {
		bundle.Version = BundleVersion
	}
	if bundle.Version != BundleVersion {
		return Bundle{}, fmt.Errorf("unsupported bundle version %d", bundle.Version)
	}
	return bundle, nil
}

func decryptAge(path, keyPath string) ([]byte, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("age key path is required for .age bundles")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key %s: %w", keyPath, err)
	}
	identities, err := parseAgeIdentities(keyData)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer file.Close()
	reader, err := age.Decrypt(file, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt bundle %s: %w", path, err)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	return payload, nil
}

func parseAgeIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}

func decryptSops(ctx context.Context, sopsPath, bundlePath string, extraEnv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, sopsPath, "-d", bundlePath)
	cmd.Env = append(os.Environ(), extraEnv...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg != "" {
			return nil, fmt.Errorf("sops decrypt %s: %w: %s", bundlePath, err, errMsg)
		}
		return nil, fmt.Errorf("sops decrypt %s: %w", bundlePath, err)
	}
	return stdout.Bytes(), nil
}
