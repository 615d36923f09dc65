// ABOUTME: Pure synthesis of the gateway document, auth profiles, metadata, and identity files.
// ABOUTME: Performs no I/O; the orchestrator reads existing state and writes the results.

// Package gatewayconfig turns operator intent plus previously written state
// into the documents the gateway reads.
package gatewayconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
)

// Defaults applied when intent leaves a gateway field empty.
const (
	DefaultGatewayPort   = 18789
	DefaultGatewayBind   = "loopback"
	DefaultGatewayAuth   = "token"
	DefaultTailscaleMode = "off"
	DefaultModel         = "anthropic/claude-opus-4-6"
)

// Well-known file names under the application root.
const (
	RootDirName      = ".openclaw"
	ConfigFileName   = "openclaw.json"
	MetadataFileName = "clawnetes-meta.json"
	AuthProfilesName = "auth-profiles.json"
)

// Options carries the non-intent inputs to Synthesize.
type Options struct {
	// Home is the absolute home directory on the target host.
	Home string
	// TokenSource overrides crypto/rand for token generation.
	TokenSource io.Reader
}

// File is one document to write on the target.
type File struct {
	Path    string
	Content string
	Mode    os.FileMode
}

// AgentLayout records where an agent's files live.
type AgentLayout struct {
	ID        string
	Name      string
	Workspace string
	AgentDir  string
	Skills    []string
	Main      bool
}

// Output is the result of one synthesis.
type Output struct {
	Root           string
	Config         Value
	ConfigJSON     []byte
	AuthProfiles   Value
	Metadata       Value
	MetadataJSON   []byte
	Files          []File
	Token          string
	TokenGenerated bool
	Agents         []AgentLayout
	Warnings       []string
}

// Dirs lists every directory the output's files need, in creation order.
func (o Output) Dirs() []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(dir string) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	add(o.Root)
	for _, agent := range o.Agents {
		add(agent.Workspace)
		add(agent.AgentDir)
	}
	for _, f := range o.Files {
		add(path.Dir(f.Path))
	}
	return dirs
}

// Synthesize builds every document for intent. existing is the current
// config document, possibly empty; its gateway token is carried forward when
// present.
func Synthesize(existing []byte, intent Intent, opts Options) (Output, error) {
	home := strings.TrimRight(strings.TrimSpace(opts.Home), "/")
	if home == "" {
		return Output{}, errors.New("home directory is required")
	}
	if strings.TrimSpace(intent.Model) == "" {
		intent.Model = DefaultModel
	}
	root := path.Join(home, RootDirName)
	out := Output{Root: root}

	token, generated, warning, err := resolveToken(existing, opts.TokenSource)
	if err != nil {
		return Output{}, err
	}
	out.Token, out.TokenGenerated = token, generated
	if warning != "" {
		out.Warnings = append(out.Warnings, warning)
	}

	provider := intent.ProviderOrDefault()
	authMode := NormalizeAuthMode(intent.AuthMode)
	profileName := provider + ":default"

	out.Agents = agentLayouts(root, intent)
	out.Config = buildConfig(root, intent, out.Agents, token, provider, authMode, profileName)
	out.ConfigJSON, err = out.Config.Pretty()
	if err != nil {
		return Output{}, fmt.Errorf("encode config: %w", err)
	}

	out.AuthProfiles = buildAuthProfiles(intent, provider, authMode, profileName)
	profilesJSON, err := out.AuthProfiles.Pretty()
	if err != nil {
		return Output{}, fmt.Errorf("encode auth profiles: %w", err)
	}

	out.Metadata = buildMetadata(intent)
	out.MetadataJSON, err = out.Metadata.Pretty()
	if err != nil {
		return Output{}, fmt.Errorf("encode metadata: %w", err)
	}

	out.Files = append(out.Files,
		File{Path: path.Join(root, ConfigFileName), Content: string(out.ConfigJSON), Mode: 0o600},
		File{Path: path.Join(root, MetadataFileName), Content: string(out.MetadataJSON), Mode: 0o644},
	)
	seenDirs := map[string]bool{}
	for _, agent := range out.Agents {
		if seenDirs[agent.AgentDir] {
			continue
		}
		seenDirs[agent.AgentDir] = true
		out.Files = append(out.Files, File{Path: path.Join(agent.AgentDir, AuthProfilesName), Content: string(profilesJSON), Mode: 0o600})
	}
	out.Files = append(out.Files, identityFiles(root, intent)...)
	return out, nil
}

func resolveToken(existing []byte, src io.Reader) (string, bool, string, error) {
	warning := ""
	if strings.TrimSpace(string(existing)) != "" {
		doc, err := ParseDocument(existing)
		if err == nil {
			if token := doc.Lookup("gateway", "auth", "token").String(); token != "" {
				if !IsToken(token) {
					warning = "existing gateway token was not generated by clawnetes; it is kept unchanged"
				}
				return token, false, warning, nil
			}
		} else {
			warning = "existing configuration could not be parsed; a new gateway token was generated"
		}
	}
	token, err := GenerateToken(src)
	if err != nil {
		return "", false, "", err
	}
	return token, true, warning, nil
}

func mainWorkspace(root string) string { return path.Join(root, "workspace") }

func agentWorkspace(root, id string) string { return path.Join(root, "agents", id, "workspace") }

func agentDir(root, id string) string { return path.Join(root, "agents", id, "agent") }

// agentLayouts returns the implicit main agent first when the explicit list
// lacks one, followed by the explicit agents in order.
func agentLayouts(root string, intent Intent) []AgentLayout {
	var layouts []AgentLayout
	if !intent.HasMainAgent() {
		layouts = append(layouts, AgentLayout{
			ID:        MainAgentID,
			Name:      intent.AgentName,
			Workspace: mainWorkspace(root),
			AgentDir:  agentDir(root, MainAgentID),
			Skills:    intent.Skills,
			Main:      true,
		})
	}
	for _, agent := range intent.Agents {
		layouts = append(layouts, AgentLayout{
			ID:        agent.ID,
			Name:      agent.Name,
			Workspace: agentWorkspace(root, agent.ID),
			AgentDir:  agentDir(root, agent.ID),
			Skills:    agent.Skills,
			Main:      agent.ID == MainAgentID,
		})
	}
	return layouts
}

func modelValue(primary string, fallbacks []string) Value {
	model := Obj(F("primary", Str(primary)))
	if len(fallbacks) > 0 {
		model.Set("fallbacks", Strings(fallbacks))
	}
	return model
}

func buildConfig(root string, intent Intent, layouts []AgentLayout, token, provider, authMode, profileName string) Value {
	defaults := Obj(
		F("maxConcurrent", Int(4)),
		F("subagents", Obj(F("maxConcurrent", Int(8)))),
		F("compaction", Obj(F("mode", Str("safeguard")))),
		F("workspace", Str(mainWorkspace(root))),
		F("model", modelValue(intent.Model, intent.FallbackModels)),
		F("models", Obj(F(intent.Model, Obj()))),
	)
	if heartbeat, ok := HeartbeatToService(intent.HeartbeatMode, intent.IdleTimeoutMS); ok {
		defaults.Set("heartbeat", heartbeat)
	}
	if mode := strings.TrimSpace(intent.SandboxMode); mode != "" {
		defaults.Set("sandbox", Obj(F("mode", Str(SandboxToService(mode)))))
	}
	if intent.MemoryEnabled {
		defaults.SetPath(Obj(F("enabled", Bool(true))), "compaction", "memoryFlush")
	}

	specs := map[string]AgentSpec{}
	for _, agent := range intent.Agents {
		specs[agent.ID] = agent
	}
	list := make([]Value, 0, len(layouts))
	for _, layout := range layouts {
		entry := Obj(F("id", Str(layout.ID)))
		spec, explicit := specs[layout.ID]
		if !explicit {
			entry.Set("default", Bool(true))
			entry.Set("name", Str(layout.Name))
			entry.Set("workspace", Str(layout.Workspace))
			entry.Set("agentDir", Str(layout.AgentDir))
			entry.Set("model", modelValue(intent.Model, intent.FallbackModels))
			list = append(list, entry)
			continue
		}
		entry.Set("name", Str(spec.Name))
		entry.Set("workspace", Str(layout.Workspace))
		entry.Set("agentDir", Str(layout.AgentDir))
		model := spec.Model
		if model == "" {
			model = intent.Model
		}
		entry.Set("model", modelValue(model, spec.FallbackModels))
		if len(spec.AllowAgents) > 0 {
			entry.Set("subagents", Obj(F("allowAgents", Strings(spec.AllowAgents))))
		}
		if spec.AgentToAgent != nil {
			entry.Set("tools", Obj(F("agentToAgent", Obj(F("enabled", Bool(*spec.AgentToAgent))))))
		}
		list = append(list, entry)
	}

	profile := Obj(F("provider", Str(provider)), F("mode", Str(authMode)))
	if base := strings.TrimSpace(intent.BaseURL); base != "" {
		profile.Set("baseUrl", Str(base))
	}

	doc := Obj(
		F("messages", Obj(F("ackReactionScope", Str("group-mentions")))),
		F("agents", Obj(F("defaults", defaults), F("list", Arr(list...)))),
		F("gateway", Obj(
			F("mode", Str("local")),
			F("port", Int(int64(orDefaultInt(intent.GatewayPort, DefaultGatewayPort)))),
			F("bind", Str(orDefault(intent.GatewayBind, DefaultGatewayBind))),
			F("auth", Obj(
				F("mode", Str(orDefault(intent.GatewayAuth, DefaultGatewayAuth))),
				F("token", Str(token)),
			)),
			F("tailscale", Obj(
				F("mode", Str(orDefault(intent.TailscaleMode, DefaultTailscaleMode))),
				F("resetOnExit", Bool(false)),
			)),
		)),
		F("auth", Obj(F("profiles", Obj(F(profileName, profile))))),
		F("commands", Obj(F("native", Str("auto")), F("nativeSkills", Str("auto")))),
	)

	if botToken := strings.TrimSpace(intent.TelegramToken); botToken != "" {
		doc.Set("plugins", Obj(F("entries", Obj(F("telegram", Obj(F("enabled", Bool(true))))))))
		doc.Set("channels", Obj(F("telegram", Obj(F("accounts", Obj(F("main", Obj(
			F("botToken", Str(botToken)),
			F("name", Str("Primary Bot")),
			F("dmPolicy", Str(dmPolicyFor(intent))),
		))))))))
	}

	tools := Obj()
	switch intent.ToolsMode {
	case "allowlist":
		if len(intent.AllowedTools) > 0 {
			tools.Set("allow", Strings(intent.AllowedTools))
		}
	case "denylist":
		if len(intent.DeniedTools) > 0 {
			tools.Set("deny", Strings(intent.DeniedTools))
		}
	}
	if tools.Len() > 0 {
		doc.Set("tools", tools)
	}

	if len(intent.CronJobs) > 0 {
		doc.Set("cron", Obj(F("enabled", Bool(true))))
	}
	return doc
}

// dmPolicyFor keeps an existing installation on its allow-list instead of
// sending every reconfiguration back through device pairing.
func dmPolicyFor(intent Intent) string {
	if intent.PreserveState {
		return "allowlist"
	}
	return "pairing"
}

func buildAuthProfiles(intent Intent, provider, authMode, profileName string) Value {
	primary := Obj(
		F("type", Str(authMode)),
		F("provider", Str(provider)),
		F("token", Str(intent.APIKey)),
	)
	if base := strings.TrimSpace(intent.BaseURL); base != "" {
		primary.Set("baseUrl", Str(base))
	}
	profiles := Obj(F(profileName, primary))

	ids := make([]string, 0, len(intent.ServiceKeys))
	for id := range intent.ServiceKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		profiles.Set(id+":default", Obj(
			F("type", Str("token")),
			F("provider", Str(id)),
			F("token", Str(intent.ServiceKeys[id])),
		))
	}
	return Obj(
		F("version", Int(1)),
		F("profiles", profiles),
		F("lastGood", Obj(F(provider, Str(profileName)))),
		F("usageStats", Obj()),
	)
}

func buildMetadata(intent Intent) Value {
	meta := Obj()
	if intent.AgentType != "" {
		meta.Set("agent_type", Str(intent.AgentType))
	}
	if len(intent.CronJobs) > 0 {
		jobs := make([]Value, 0, len(intent.CronJobs))
		for _, job := range intent.CronJobs {
			entry := Obj(
				F("name", Str(job.Name)),
				F("schedule", Str(job.Schedule)),
				F("command", Str(job.Command)),
			)
			if job.Session != "" {
				entry.Set("session", Str(job.Session))
			}
			jobs = append(jobs, entry)
		}
		meta.Set("cron_jobs", Arr(jobs...))
	}
	if intent.MemoryEnabled {
		meta.Set("memory_enabled", Bool(true))
	}
	return meta
}

type identitySet struct {
	identity, user, soul             string
	tools, agents, heartbeat, memory string
}

func identityFiles(root string, intent Intent) []File {
	var files []File
	write := func(dir string, docs identitySet) {
		add := func(name, content string) {
			if content != "" {
				files = append(files, File{Path: path.Join(dir, name), Content: content, Mode: 0o644})
			}
		}
		add("IDENTITY.md", docs.identity)
		add("USER.md", docs.user)
		add("SOUL.md", docs.soul)
		add("TOOLS.md", docs.tools)
		add("AGENTS.md", docs.agents)
		add("HEARTBEAT.md", docs.heartbeat)
		add("MEMORY.md", docs.memory)
	}

	write(mainWorkspace(root), identitySet{
		identity:  personalizeIdentity(intent.IdentityMD, intent.AgentName, intent.AgentEmoji, intent.AgentVibe),
		user:      personalizeUser(intent.UserMD, intent.UserName),
		soul:      personalizeSoul(intent.SoulMD, intent.UserName),
		tools:     intent.ToolsMD,
		agents:    intent.AgentsMD,
		heartbeat: intent.HeartbeatMD,
		memory:    intent.MemoryMD,
	})
	for _, agent := range intent.Agents {
		write(agentWorkspace(root, agent.ID), identitySet{
			identity:  personalizeIdentity(agent.IdentityMD, agent.Name, agent.Emoji, agent.Vibe),
			user:      personalizeUser(agent.UserMD, intent.UserName),
			soul:      personalizeSoul(agent.SoulMD, intent.UserName),
			tools:     agent.ToolsMD,
			agents:    agent.AgentsMD,
			heartbeat: agent.HeartbeatMD,
			memory:    agent.MemoryMD,
		})
	}
	return files
}

// personalizeIdentity fills the default IDENTITY.md, or rewrites the Name,
// Emoji and Vibe lines of a supplied one. Empty values leave a line alone.
func personalizeIdentity(md, name, emoji, vibe string) string {
	if strings.TrimSpace(md) == "" {
		return defaultIdentity(name, emoji, vibe)
	}
	for _, field := range [][2]string{{"Name", name}, {"Emoji", emoji}, {"Vibe", vibe}} {
		if field[1] != "" {
			md = UpdateIdentityField(md, field[0], field[1])
		}
	}
	return md
}

func personalizeUser(md, user string) string {
	if strings.TrimSpace(md) == "" {
		return defaultUser(user)
	}
	if user == "" {
		return md
	}
	return UpdateIdentityField(md, "Name", user)
}

func personalizeSoul(md, user string) string {
	if strings.TrimSpace(md) == "" {
		return defaultSoul(user)
	}
	if user == "" {
		return md
	}
	return UpdateSoulMission(md, user)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func orDefaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
