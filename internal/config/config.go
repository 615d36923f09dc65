// Package config loads the clawnetes CLI configuration.
//
// Settings come from built-in defaults overlaid by an optional YAML file.
// A missing file is not an error; a malformed one is.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clawnetes/clawnetes/internal/logging"
	"gopkg.in/yaml.v3"
)

const (
	appDirName         = "clawnetes"
	defaultGatewayPort = 18789
)

// Config holds CLI paths, listener settings and retry budgets.
type Config struct {
	ConfigPath            string
	StateDir              string
	DBPath                string
	LogLevel              string
	MetricsListen         string
	SecretsDir            string
	AgeKeyPath            string
	AllowPlaintextSecrets bool
	GatewayPort           int
	SSHTimeout            time.Duration
	TunnelPollInterval    time.Duration
	VerifyAttempts        int
	VerifyInterval        time.Duration
	TunnelVerifyAttempts  int
	TunnelVerifyInterval  time.Duration
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	StateDir              string `yaml:"state_dir"`
	DBPath                string `yaml:"db_path"`
	LogLevel              string `yaml:"log_level"`
	MetricsListen         string `yaml:"metrics_listen"`
	SecretsDir            string `yaml:"secrets_dir"`
	AgeKeyPath            string `yaml:"age_key_path"`
	AllowPlaintextSecrets *bool  `yaml:"allow_plaintext_secrets"`
	GatewayPort           int    `yaml:"gateway_port"`
	SSHTimeout            string `yaml:"ssh_timeout"`
	TunnelPollInterval    string `yaml:"tunnel_poll_interval"`
	VerifyAttempts        int    `yaml:"verify_attempts"`
	VerifyInterval        string `yaml:"verify_interval"`
	TunnelVerifyAttempts  int    `yaml:"tunnel_verify_attempts"`
	TunnelVerifyInterval  string `yaml:"tunnel_verify_interval"`
}

// DefaultPath returns $XDG_CONFIG_HOME/clawnetes/config.yaml or the
// platform equivalent.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

func baseDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "."+appDirName)
	}
	return "." + appDirName
}

func DefaultConfig() Config {
	stateDir := baseDir()
	return Config{
		ConfigPath:           DefaultPath(),
		StateDir:             stateDir,
		DBPath:               filepath.Join(stateDir, "history.db"),
		LogLevel:             "info",
		SecretsDir:           filepath.Join(stateDir, "secrets"),
		AgeKeyPath:           filepath.Join(stateDir, "keys", "age.key"),
		GatewayPort:          defaultGatewayPort,
		SSHTimeout:           10 * time.Second,
		TunnelPollInterval:   10 * time.Millisecond,
		VerifyAttempts:       8,
		VerifyInterval:       3 * time.Second,
		TunnelVerifyAttempts: 30,
		TunnelVerifyInterval: 2 * time.Second,
	}
}

// Load reads the YAML config file and applies overrides to defaults. An
// empty path means DefaultPath.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	if err := applyFileConfig(&cfg, fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	if fileCfg.StateDir != "" {
		if fileCfg.DBPath == "" {
			cfg.DBPath = filepath.Join(cfg.StateDir, "history.db")
		}
		if fileCfg.SecretsDir == "" {
			cfg.SecretsDir = filepath.Join(cfg.StateDir, "secrets")
		}
		if fileCfg.AgeKeyPath == "" {
			cfg.AgeKeyPath = filepath.Join(cfg.StateDir, "keys", "age.key")
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) error {
	if fileCfg.StateDir != "" {
		cfg.StateDir = fileCfg.StateDir
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.SecretsDir != "" {
		cfg.SecretsDir = fileCfg.SecretsDir
	}
	if fileCfg.AgeKeyPath != "" {
		cfg.AgeKeyPath = fileCfg.AgeKeyPath
	}
	if fileCfg.AllowPlaintextSecrets != nil {
		cfg.AllowPlaintextSecrets = *fileCfg.AllowPlaintextSecrets
	}
	if fileCfg.GatewayPort != 0 {
		cfg.GatewayPort = fileCfg.GatewayPort
	}
	if fileCfg.VerifyAttempts != 0 {
		cfg.VerifyAttempts = fileCfg.VerifyAttempts
	}
	if fileCfg.TunnelVerifyAttempts != 0 {
		cfg.TunnelVerifyAttempts = fileCfg.TunnelVerifyAttempts
	}
	durations := []struct {
		key   string
		raw   string
		value *time.Duration
	}{
		{"ssh_timeout", fileCfg.SSHTimeout, &cfg.SSHTimeout},
		{"tunnel_poll_interval", fileCfg.TunnelPollInterval, &cfg.TunnelPollInterval},
		{"verify_interval", fileCfg.VerifyInterval, &cfg.VerifyInterval},
		{"tunnel_verify_interval", fileCfg.TunnelVerifyInterval, &cfg.TunnelVerifyInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.value = parsed
	}
	return nil
}

// Validate performs basic validation without exposing secrets.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.GatewayPort <= 0 || c.GatewayPort > 65535 {
		return fmt.Errorf("gateway_port must be between 1 and 65535 (got %d)", c.GatewayPort)
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("ssh_timeout must be positive")
	}
	if c.TunnelPollInterval <= 0 {
		return fmt.Errorf("tunnel_poll_interval must be positive")
	}
	if c.VerifyAttempts <= 0 {
		return fmt.Errorf("verify_attempts must be positive")
	}
	if c.VerifyInterval <= 0 {
		return fmt.Errorf("verify_interval must be positive")
	}
	if c.TunnelVerifyAttempts <= 0 {
		return fmt.Errorf("tunnel_verify_attempts must be positive")
	}
	if c.TunnelVerifyInterval <= 0 {
		return fmt.Errorf("tunnel_verify_interval must be positive")
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
