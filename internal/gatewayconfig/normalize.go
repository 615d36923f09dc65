package gatewayconfig

import "strings"

// NormalizeAuthMode folds provider-specific auth flavours into the modes the
// gateway understands. An intent that names no mode gets "token", the same
// default the gateway applies to a profile without a mode, so setup-token
// installs need no explicit flag.
func NormalizeAuthMode(mode string) string {
	switch mode {
	case "":
		return "token"
	case "setup-token":
		return "token"
	case "antigravity", "gemini_cli", "codex":
		return "oauth"
	default:
		return mode
	}
}

// SandboxToService maps operator sandbox wording to the gateway's.
func SandboxToService(mode string) string {
	switch mode {
	case "full":
		return "all"
	case "partial":
		return "non-main"
	case "none":
		return "off"
	default:
		return mode
	}
}

// SandboxFromService inverts SandboxToService.
func SandboxFromService(mode string) string {
	switch mode {
	case "all":
		return "full"
	case "non-main":
		return "partial"
	case "off":
		return "none"
	default:
		return mode
	}
}

// Heartbeat defaults used when reading a document back.
const (
	DefaultHeartbeatMode = "1h"
	DefaultIdleTimeoutMS = 3600000
)

// HeartbeatToService builds the heartbeat section for a mode. ok is false
// when mode is empty and no section should be written.
func HeartbeatToService(mode string, idleTimeoutMS int64) (Value, bool) {
	switch strings.TrimSpace(mode) {
	case "":
		return Value{}, false
	case "never":
		return Obj(F("enabled", Bool(false))), true
	case "idle":
		if idleTimeoutMS <= 0 {
			idleTimeoutMS = DefaultIdleTimeoutMS
		}
		return Obj(F("mode", Str("idle")), F("timeout", Int(idleTimeoutMS))), true
	default:
		return Obj(F("every", Str(mode))), true
	}
}

// HeartbeatFromService recovers the operator heartbeat mode and idle timeout
// from a heartbeat section.
func HeartbeatFromService(heartbeat Value) (string, int64) {
	timeout := int64(DefaultIdleTimeoutMS)
	if n, ok := heartbeat.Lookup("timeout").Int(); ok {
		timeout = n
	}
	if enabled, ok := heartbeat.Lookup("enabled").BoolValue(); ok && !enabled {
		return "never", timeout
	}
	if mode, ok := heartbeat.Lookup("mode").StringOK(); ok {
		return mode, timeout
	}
	if every, ok := heartbeat.Lookup("every").StringOK(); ok {
		return every, timeout
	}
	return DefaultHeartbeatMode, timeout
}

// ToolsModeFromService infers the tools mode from allow and deny lists.
func ToolsModeFromService(allowed, denied []string) string {
	switch {
	case len(allowed) > 0:
		return "allowlist"
	case len(denied) > 0:
		return "denylist"
	default:
		return "all"
	}
}
