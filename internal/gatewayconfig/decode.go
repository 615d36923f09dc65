package gatewayconfig

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrConfigNotFound is returned by Decode when the config document is
// missing or empty.
var ErrConfigNotFound = errors.New("configuration not found (openclaw.json is empty or missing)")

// ParseError reports a malformed persisted document.
type ParseError struct {
	Document string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Document, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Source gives Decode access to files under the application root. Paths are
// relative to the root. Missing files read as "".
type Source interface {
	ReadFile(rel string) string
	ListDirs(rel string) []string
}

// PairingState describes the Telegram direct-message policy.
type PairingState string

const (
	PairingPaired       PairingState = "paired"
	PairingPending      PairingState = "pairing"
	PairingUnconfigured PairingState = "unconfigured"
)

// PairingFromPolicy maps a dmPolicy value to a PairingState. An empty policy
// means no Telegram account was ever configured.
func PairingFromPolicy(policy string) PairingState {
	switch strings.Trim(strings.TrimSpace(policy), `"`) {
	case "":
		return PairingUnconfigured
	case "pairing":
		return PairingPending
	default:
		return PairingPaired
	}
}

// IsPaired keeps the historical contract: anything other than an active
// pairing flow counts as paired, including an unconfigured channel.
func (p PairingState) IsPaired() bool {
	return p != PairingPending
}

// CurrentConfig is the operator-facing view reconstructed from disk.
type CurrentConfig struct {
	Provider        string            `json:"provider"`
	APIKey          string            `json:"api_key"`
	AuthMethod      string            `json:"auth_method"`
	BaseURL         string            `json:"base_url,omitempty"`
	Model           string            `json:"model"`
	FallbackModels  []string          `json:"fallback_models"`
	UserName        string            `json:"user_name"`
	AgentName       string            `json:"agent_name"`
	AgentVibe       string            `json:"agent_vibe"`
	AgentEmoji      string            `json:"agent_emoji"`
	AgentType       string            `json:"agent_type"`
	TelegramToken   string            `json:"telegram_token"`
	GatewayPort     int               `json:"gateway_port"`
	GatewayBind     string            `json:"gateway_bind"`
	GatewayAuthMode string            `json:"gateway_auth_mode"`
	GatewayToken    string            `json:"gateway_token"`
	TailscaleMode   string            `json:"tailscale_mode"`
	NodeManager     string            `json:"node_manager"`
	Skills          []string          `json:"skills"`
	ServiceKeys     map[string]string `json:"service_keys"`
	SandboxMode     string            `json:"sandbox_mode"`
	ToolsMode       string            `json:"tools_mode"`
	AllowedTools    []string          `json:"allowed_tools"`
	DeniedTools     []string          `json:"denied_tools"`
	HeartbeatMode   string            `json:"heartbeat_mode"`
	IdleTimeoutMS   int64             `json:"idle_timeout_ms"`
	IdentityMD      string            `json:"identity_md"`
	UserMD          string            `json:"user_md"`
	SoulMD          string            `json:"soul_md"`
	ToolsMD         string            `json:"tools_md,omitempty"`
	AgentsMD        string            `json:"agents_md,omitempty"`
	HeartbeatMD     string            `json:"heartbeat_md,omitempty"`
	MemoryMD        string            `json:"memory_md,omitempty"`
	MemoryEnabled   bool              `json:"memory_enabled"`
	MultiAgent      bool              `json:"enable_multi_agent"`
	Agents          []AgentSpec       `json:"agent_configs"`
	Pairing         PairingState      `json:"pairing_state"`
	IsPaired        bool              `json:"is_paired"`
	CronJobs        []CronJob         `json:"cron_jobs,omitempty"`
}

// Decode rebuilds the operator view from the files under the application
// root. A malformed config or metadata document yields a ParseError; a
// malformed auth-profile document is treated as empty.
func Decode(src Source) (CurrentConfig, error) {
	configRaw := src.ReadFile(ConfigFileName)
	if strings.TrimSpace(configRaw) == "" {
		return CurrentConfig{}, ErrConfigNotFound
	}
	doc, err := ParseDocument([]byte(configRaw))
	if err != nil {
		return CurrentConfig{}, &ParseError{Document: ConfigFileName, Err: err}
	}
	meta, err := ParseDocument([]byte(src.ReadFile(MetadataFileName)))
	if err != nil {
		return CurrentConfig{}, &ParseError{Document: MetadataFileName, Err: err}
	}
	profilesDoc, err := ParseDocument([]byte(src.ReadFile(path.Join("agents", MainAgentID, "agent", AuthProfilesName))))
	if err != nil {
		profilesDoc = Obj()
	}

	var cfg CurrentConfig
	gateway := doc.Lookup("gateway")
	cfg.GatewayPort = DefaultGatewayPort
	if port, ok := gateway.Lookup("port").Int(); ok {
		cfg.GatewayPort = int(port)
	}
	cfg.GatewayBind = orDefault(gateway.Lookup("bind").String(), DefaultGatewayBind)
	cfg.GatewayAuthMode = orDefault(gateway.Lookup("auth", "mode").String(), DefaultGatewayAuth)
	cfg.GatewayToken = gateway.Lookup("auth", "token").String()
	cfg.TailscaleMode = orDefault(gateway.Lookup("tailscale", "mode").String(), DefaultTailscaleMode)

	defaults := doc.Lookup("agents", "defaults")
	cfg.Model = orDefault(defaults.Lookup("model", "primary").String(), DefaultModel)
	cfg.FallbackModels = defaults.Lookup("model", "fallbacks").StringItems()

	providerPrefix, _, _ := strings.Cut(cfg.Model, "/")
	profileName := orDefault(providerPrefix, "anthropic") + ":default"
	profile := profilesDoc.Lookup("profiles", profileName)
	cfg.Provider = orDefault(profile.Lookup("provider").String(), "anthropic")
	cfg.APIKey = profile.Lookup("token").String()
	cfg.AuthMethod = orDefault(profile.Lookup("type").String(), orDefault(profile.Lookup("mode").String(), "token"))
	cfg.BaseURL = profile.Lookup("baseUrl").String()
	if cfg.BaseURL == "" {
		cfg.BaseURL = doc.Lookup("auth", "profiles", profileName, "baseUrl").String()
	}
	cfg.ServiceKeys = map[string]string{}
	profiles := profilesDoc.Lookup("profiles")
	for _, key := range profiles.Keys() {
		if key == profileName {
			continue
		}
		entry := profiles.Lookup(key)
		if entry.Lookup("type").String() != "token" {
			continue
		}
		id := strings.TrimSuffix(key, ":default")
		cfg.ServiceKeys[id] = entry.Lookup("token").String()
	}

	cfg.IdentityMD = src.ReadFile("workspace/IDENTITY.md")
	cfg.UserMD = src.ReadFile("workspace/USER.md")
	cfg.SoulMD = src.ReadFile("workspace/SOUL.md")
	cfg.ToolsMD = src.ReadFile("workspace/TOOLS.md")
	cfg.AgentsMD = src.ReadFile("workspace/AGENTS.md")
	cfg.HeartbeatMD = src.ReadFile("workspace/HEARTBEAT.md")
	cfg.MemoryMD = src.ReadFile("workspace/MEMORY.md")
	cfg.AgentName = ExtractValue(cfg.IdentityMD, "Name")
	cfg.AgentVibe = ExtractValue(cfg.IdentityMD, "Vibe")
	cfg.AgentEmoji = ExtractValue(cfg.IdentityMD, "Emoji")
	cfg.UserName = ExtractValue(cfg.UserMD, "Name")
	cfg.Skills = sortedCopy(src.ListDirs("workspace/skills"))

	account := doc.Lookup("channels", "telegram", "accounts", "main")
	cfg.TelegramToken = account.Lookup("botToken").String()
	cfg.Pairing = PairingFromPolicy(account.Lookup("dmPolicy").String())
	cfg.IsPaired = cfg.Pairing.IsPaired()

	cfg.SandboxMode = SandboxFromService(orDefault(defaults.Lookup("sandbox", "mode").String(), "all"))
	cfg.AllowedTools = doc.Lookup("tools", "allow").StringItems()
	cfg.DeniedTools = doc.Lookup("tools", "deny").StringItems()
	cfg.ToolsMode = ToolsModeFromService(cfg.AllowedTools, cfg.DeniedTools)
	cfg.HeartbeatMode, cfg.IdleTimeoutMS = HeartbeatFromService(defaults.Lookup("heartbeat"))
	cfg.MemoryEnabled = memoryFlushEnabled(defaults.Lookup("compaction", "memoryFlush"))
	cfg.NodeManager = orDefault(doc.Lookup("skills", "nodeManager").String(), "npm")

	list := doc.Lookup("agents", "list").Items()
	cfg.MultiAgent = len(list) > 1
	if cfg.MultiAgent {
		for _, entry := range list {
			agent, ok := decodeAgent(entry, src)
			if ok {
				cfg.Agents = append(cfg.Agents, agent)
			}
		}
	}

	cfg.AgentType = orDefault(meta.Lookup("agent_type").String(), "custom")
	for _, job := range meta.Lookup("cron_jobs").Items() {
		cfg.CronJobs = append(cfg.CronJobs, CronJob{
			Name:     job.Lookup("name").String(),
			Schedule: job.Lookup("schedule").String(),
			Command:  job.Lookup("command").String(),
			Session:  job.Lookup("session").String(),
		})
	}
	return cfg, nil
}

// memoryFlushEnabled accepts both a bare bool and {enabled: bool}.
func memoryFlushEnabled(v Value) bool {
	if b, ok := v.BoolValue(); ok {
		return b
	}
	b, _ := v.Lookup("enabled").BoolValue()
	return b
}

func decodeAgent(entry Value, src Source) (AgentSpec, bool) {
	id := entry.Lookup("id").String()
	if id == "" || id == MainAgentID {
		return AgentSpec{}, false
	}
	agent := AgentSpec{ID: id, Name: orDefault(entry.Lookup("name").String(), "Agent")}
	model := entry.Lookup("model")
	if s, ok := model.StringOK(); ok {
		agent.Model = s
	} else {
		agent.Model = model.Lookup("primary").String()
		agent.FallbackModels = model.Lookup("fallbacks").StringItems()
	}
	agent.AllowAgents = entry.Lookup("subagents", "allowAgents").StringItems()
	if enabled, ok := entry.Lookup("tools", "agentToAgent", "enabled").BoolValue(); ok {
		agent.AgentToAgent = &enabled
	}

	base := path.Join("agents", id, "workspace")
	agent.IdentityMD = src.ReadFile(path.Join(base, "IDENTITY.md"))
	agent.UserMD = src.ReadFile(path.Join(base, "USER.md"))
	agent.SoulMD = src.ReadFile(path.Join(base, "SOUL.md"))
	agent.ToolsMD = src.ReadFile(path.Join(base, "TOOLS.md"))
	agent.AgentsMD = src.ReadFile(path.Join(base, "AGENTS.md"))
	agent.HeartbeatMD = src.ReadFile(path.Join(base, "HEARTBEAT.md"))
	agent.MemoryMD = src.ReadFile(path.Join(base, "MEMORY.md"))
	if name := ExtractValue(agent.IdentityMD, "Name"); name != "" {
		agent.Name = name
	}
	agent.Vibe = ExtractValue(agent.IdentityMD, "Vibe")
	agent.Emoji = ExtractValue(agent.IdentityMD, "Emoji")
	agent.Skills = sortedCopy(src.ListDirs(path.Join(base, "skills")))
	return agent, true
}

// Intent converts the view back into an intent that reproduces it. The
// result preserves state so reconfiguration does not reset pairing.
func (c CurrentConfig) Intent() Intent {
	intent := Intent{
		Provider:       c.Provider,
		APIKey:         c.APIKey,
		AuthMode:       c.AuthMethod,
		BaseURL:        c.BaseURL,
		Model:          c.Model,
		FallbackModels: c.FallbackModels,
		UserName:       c.UserName,
		AgentName:      c.AgentName,
		AgentVibe:      c.AgentVibe,
		AgentEmoji:     c.AgentEmoji,
		TelegramToken:  c.TelegramToken,
		GatewayPort:    c.GatewayPort,
		GatewayBind:    c.GatewayBind,
		GatewayAuth:    c.GatewayAuthMode,
		TailscaleMode:  c.TailscaleMode,
		NodeManager:    c.NodeManager,
		Skills:         c.Skills,
		IdentityMD:     c.IdentityMD,
		UserMD:         c.UserMD,
		SoulMD:         c.SoulMD,
		ToolsMD:        c.ToolsMD,
		AgentsMD:       c.AgentsMD,
		HeartbeatMD:    c.HeartbeatMD,
		MemoryMD:       c.MemoryMD,
		HeartbeatMode:  c.HeartbeatMode,
		IdleTimeoutMS:  c.IdleTimeoutMS,
		SandboxMode:    c.SandboxMode,
		ToolsMode:      c.ToolsMode,
		AllowedTools:   c.AllowedTools,
		DeniedTools:    c.DeniedTools,
		Agents:         c.Agents,
		CronJobs:       c.CronJobs,
		MemoryEnabled:  c.MemoryEnabled,
		PreserveState:  true,
	}
	if c.AgentType != "custom" {
		intent.AgentType = c.AgentType
	}
	if len(c.ServiceKeys) > 0 {
		intent.ServiceKeys = c.ServiceKeys
	}
	return intent
}

func sortedCopy(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}
