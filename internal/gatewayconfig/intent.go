package gatewayconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Intent is what the operator asks for. Empty fields mean "not requested";
// optional sections are emitted only when set.
type Intent struct {
	Provider       string            `json:"provider" yaml:"provider"`
	APIKey         string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	AuthMode       string            `json:"auth_mode,omitempty" yaml:"auth_mode,omitempty"`
	BaseURL        string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model          string            `json:"model" yaml:"model"`
	FallbackModels []string          `json:"fallback_models,omitempty" yaml:"fallback_models,omitempty"`
	UserName       string            `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	AgentName      string            `json:"agent_name,omitempty" yaml:"agent_name,omitempty"`
	AgentVibe      string            `json:"agent_vibe,omitempty" yaml:"agent_vibe,omitempty"`
	AgentEmoji     string            `json:"agent_emoji,omitempty" yaml:"agent_emoji,omitempty"`
	AgentType      string            `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	TelegramToken  string            `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`
	GatewayPort    int               `json:"gateway_port,omitempty" yaml:"gateway_port,omitempty"`
	GatewayBind    string            `json:"gateway_bind,omitempty" yaml:"gateway_bind,omitempty"`
	GatewayAuth    string            `json:"gateway_auth_mode,omitempty" yaml:"gateway_auth_mode,omitempty"`
	TailscaleMode  string            `json:"tailscale_mode,omitempty" yaml:"tailscale_mode,omitempty"`
	NodeManager    string            `json:"node_manager,omitempty" yaml:"node_manager,omitempty"`
	Skills         []string          `json:"skills,omitempty" yaml:"skills,omitempty"`
	ServiceKeys    map[string]string `json:"service_keys,omitempty" yaml:"service_keys,omitempty"`

	IdentityMD  string `json:"identity_md,omitempty" yaml:"identity_md,omitempty"`
	UserMD      string `json:"user_md,omitempty" yaml:"user_md,omitempty"`
	SoulMD      string `json:"soul_md,omitempty" yaml:"soul_md,omitempty"`
	ToolsMD     string `json:"tools_md,omitempty" yaml:"tools_md,omitempty"`
	AgentsMD    string `json:"agents_md,omitempty" yaml:"agents_md,omitempty"`
	HeartbeatMD string `json:"heartbeat_md,omitempty" yaml:"heartbeat_md,omitempty"`
	MemoryMD    string `json:"memory_md,omitempty" yaml:"memory_md,omitempty"`

	HeartbeatMode string   `json:"heartbeat_mode,omitempty" yaml:"heartbeat_mode,omitempty"`
	IdleTimeoutMS int64    `json:"idle_timeout_ms,omitempty" yaml:"idle_timeout_ms,omitempty"`
	SandboxMode   string   `json:"sandbox_mode,omitempty" yaml:"sandbox_mode,omitempty"`
	ToolsMode     string   `json:"tools_mode,omitempty" yaml:"tools_mode,omitempty"`
	AllowedTools  []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	DeniedTools   []string `json:"denied_tools,omitempty" yaml:"denied_tools,omitempty"`

	Agents        []AgentSpec `json:"agents,omitempty" yaml:"agents,omitempty"`
	CronJobs      []CronJob   `json:"cron_jobs,omitempty" yaml:"cron_jobs,omitempty"`
	MemoryEnabled bool        `json:"memory_enabled,omitempty" yaml:"memory_enabled,omitempty"`
	PreserveState bool        `json:"preserve_state,omitempty" yaml:"preserve_state,omitempty"`
}

// AgentSpec is one explicitly requested agent.
type AgentSpec struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Model          string   `json:"model" yaml:"model"`
	FallbackModels []string `json:"fallback_models,omitempty" yaml:"fallback_models,omitempty"`
	Skills         []string `json:"skills,omitempty" yaml:"skills,omitempty"`
	Vibe           string   `json:"vibe,omitempty" yaml:"vibe,omitempty"`
	Emoji          string   `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	IdentityMD     string   `json:"identity_md,omitempty" yaml:"identity_md,omitempty"`
	UserMD         string   `json:"user_md,omitempty" yaml:"user_md,omitempty"`
	SoulMD         string   `json:"soul_md,omitempty" yaml:"soul_md,omitempty"`
	ToolsMD        string   `json:"tools_md,omitempty" yaml:"tools_md,omitempty"`
	AgentsMD       string   `json:"agents_md,omitempty" yaml:"agents_md,omitempty"`
	HeartbeatMD    string   `json:"heartbeat_md,omitempty" yaml:"heartbeat_md,omitempty"`
	MemoryMD       string   `json:"memory_md,omitempty" yaml:"memory_md,omitempty"`
	// AllowAgents lists agent ids this agent may spawn as sub-agents.
	AllowAgents  []string `json:"allow_agents,omitempty" yaml:"allow_agents,omitempty"`
	AgentToAgent *bool    `json:"agent_to_agent,omitempty" yaml:"agent_to_agent,omitempty"`
}

// CronJob is a scheduled command kept in the metadata document.
type CronJob struct {
	Name     string `json:"name" yaml:"name"`
	Schedule string `json:"schedule" yaml:"schedule"`
	Command  string `json:"command" yaml:"command"`
	Session  string `json:"session,omitempty" yaml:"session,omitempty"`
}

// MainAgentID is reserved for the default agent.
const MainAgentID = "main"

// HasMainAgent reports whether the explicit agent list already carries "main".
func (in Intent) HasMainAgent() bool {
	for _, agent := range in.Agents {
		if agent.ID == MainAgentID {
			return true
		}
	}
	return false
}

// ProviderOrDefault derives the provider from the model prefix when unset.
func (in Intent) ProviderOrDefault() string {
	if p := strings.TrimSpace(in.Provider); p != "" {
		return p
	}
	if prefix, _, ok := strings.Cut(in.Model, "/"); ok && prefix != "" {
		return prefix
	}
	return "anthropic"
}

// LoadIntent reads an intent file. Files ending in .json are decoded as JSON,
// everything else as YAML. The decoded intent is validated before return.
func LoadIntent(path string) (Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Intent{}, fmt.Errorf("read intent %s: %w", path, err)
	}
	intent, err := ParseIntent(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return Intent{}, fmt.Errorf("intent %s: %w", path, err)
	}
	return intent, nil
}

// ParseIntent decodes and validates intent bytes.
func ParseIntent(data []byte, isJSON bool) (Intent, error) {
	var intent Intent
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&intent); err != nil {
			return Intent{}, &ParseError{Document: "intent", Err: err}
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&intent); err != nil {
			return Intent{}, &ParseError{Document: "intent", Err: err}
		}
	}
	if err := ValidateIntent(intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}
