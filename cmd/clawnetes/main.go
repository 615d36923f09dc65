package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clawnetes/clawnetes/internal/buildinfo"
)

const usageText = `clawnetes provisions and operates OpenClaw gateways.

Usage:
  clawnetes --version
  clawnetes [global flags] provision --intent <file> [--secrets <bundle>] <target flags>
  clawnetes [global flags] configure (--intent <file> | --from-current) [--secrets <bundle>] <target flags>
  clawnetes [global flags] start [--gateway-port <port>] <target flags>
  clawnetes [global flags] status [--gateway-port <port>] <target flags>
  clawnetes [global flags] config show [--show-secrets] <target flags>
  clawnetes [global flags] pairing status <target flags>
  clawnetes [global flags] pairing approve <code> <target flags>
  clawnetes [global flags] dashboard [--gateway-port <port>] <target flags>
  clawnetes [global flags] workspace show [--agent <id>] <target flags>
  clawnetes [global flags] workspace save [--agent <id>] [--identity-file <f>] [--user-file <f>] [--soul-file <f>] <target flags>
  clawnetes [global flags] skill create <name> --file <path> <target flags>
  clawnetes [global flags] tunnel --host <host> [--local-port <port>] [--gateway-port <port>] [--no-verify]
  clawnetes [global flags] verify --host <host> [--local-port <port>] [--attempts <n>]
  clawnetes [global flags] history [--limit <n>]
  clawnetes [global flags] history show <run_id>
  clawnetes [global flags] history tunnels [--limit <n>]
  clawnetes [global flags] secrets seal <name> --recipient <age1...> [--in <file>] [--force]
  clawnetes [global flags] wsl list
  clawnetes [global flags] maintenance <version|update|uninstall|doctor|audit> <target flags>

Target Flags (pick one of --host, --local, --wsl):
  --host HOST         SSH host, optionally user@host:port
  --user USER         SSH user
  --port PORT         SSH port (default 22)
  --identity PATH     Private key; disables agent and default-key fallback
  --password-stdin    Read the SSH password from stdin
  --local             Run on this machine
  --wsl               Run inside a WSL distribution
  --distro NAME       WSL distribution (default: first Ubuntu)

Global Flags:
  --config PATH       Config file (default $XDG_CONFIG_HOME/clawnetes/config.yaml)
  --json              Output json
  --log-level LEVEL   debug, info, warn or error
`

type globalOptions struct {
	configPath  string
	jsonOutput  bool
	logLevel    string
	showVersion bool
}

var (
	stdoutWriter io.Writer = os.Stdout
	stderrWriter io.Writer = os.Stderr
	stdinReader  io.Reader = os.Stdin
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	opts, args, err := parseGlobal(argv)
	if errors.Is(err, flag.ErrHelp) {
		printUsage()
		return 0
	}
	if err != nil {
		printError(stderrWriter, err.Error(), "", []string{"run clawnetes --help for usage"})
		return 2
	}
	if opts.showVersion {
		if opts.jsonOutput {
			_ = writeJSON(stdoutWriter, buildinfo.Current())
			return 0
		}
		fmt.Fprintln(stdoutWriter, buildinfo.String())
		return 0
	}
	if len(args) == 0 || isHelpToken(args[0]) {
		printUsage()
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := commonFlags{configPath: opts.configPath, jsonOutput: opts.jsonOutput, logLevel: opts.logLevel}
	if err := dispatch(ctx, args, base); err != nil {
		if errors.Is(err, errHelp) {
			return 0
		}
		msg, next, hints := describeError(err)
		if base.jsonOutput {
			_ = writeJSON(stderrWriter, map[string]any{"error": msg, "next": next, "hints": hints})
		} else {
			printError(stderrWriter, msg, next, hints)
		}
		return 1
	}
	return 0
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	var opts globalOptions
	fs := flag.NewFlagSet("clawnetes", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "config file path")
	fs.BoolVar(&opts.jsonOutput, "json", false, jsonFlagDescription)
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

func dispatch(ctx context.Context, args []string, base commonFlags) error {
	switch args[0] {
	case "provision":
		return runProvision(ctx, args[1:], base)
	case "configure":
		return runConfigure(ctx, args[1:], base)
	case "start":
		return runStart(ctx, args[1:], base)
	case "status":
		return runStatus(ctx, args[1:], base)
	case "config":
		return runConfigCommand(ctx, args[1:], base)
	case "pairing":
		return runPairingCommand(ctx, args[1:], base)
	case "dashboard":
		return runDashboard(ctx, args[1:], base)
	case "tunnel":
		return runTunnel(ctx, args[1:], base)
	case "verify":
		return runVerify(ctx, args[1:], base)
	case "workspace":
		return runWorkspaceCommand(ctx, args[1:], base)
	case "skill":
		return runSkillCommand(ctx, args[1:], base)
	case "secrets":
		return runSecretsCommand(ctx, args[1:], base)
	case "history":
		return runHistoryCommand(ctx, args[1:], base)
	case "wsl":
		return runWSLCommand(ctx, args[1:], base)
	case "maintenance":
		return runMaintenanceCommand(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown command %q", args[0]), "clawnetes --help", suggestCommand(args[0])...)
	}
}

var commandNames = []string{
	"provision", "configure", "start", "status", "config", "pairing",
	"dashboard", "workspace", "skill", "secrets", "tunnel", "verify",
	"history", "wsl", "maintenance",
}

// suggestCommand returns a "did you mean" hint for near misses.
func suggestCommand(name string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	for _, candidate := range commandNames {
		if strings.HasPrefix(candidate, name) || strings.HasPrefix(name, candidate) {
			return []string{fmt.Sprintf("did you mean %q?", candidate)}
		}
	}
	return nil
}

func printUsage() {
	_, _ = fmt.Fprint(stdoutWriter, usageText)
}

func isHelpToken(value string) bool {
	switch strings.TrimSpace(value) {
	case "help", "-h", "--help":
		return true
	default:
		return false
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
