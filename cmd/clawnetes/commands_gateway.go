package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/provision"
	"github.com/clawnetes/clawnetes/internal/redact"
	"github.com/clawnetes/clawnetes/internal/telegram"
)

// validateTelegram is replaced in tests.
var validateTelegram = telegram.ValidateToken

type intentOp func(ctx context.Context, o *provision.Orchestrator, intent gatewayconfig.Intent) (provision.Report, error)

func runProvision(ctx context.Context, args []string, base commonFlags) error {
	return runIntentCommand(ctx, args, base, "provision", false, func(ctx context.Context, o *provision.Orchestrator, intent gatewayconfig.Intent) (provision.Report, error) {
		return o.Provision(ctx, intent)
	})
}

func runConfigure(ctx context.Context, args []string, base commonFlags) error {
	return runIntentCommand(ctx, args, base, "configure", true, func(ctx context.Context, o *provision.Orchestrator, intent gatewayconfig.Intent) (provision.Report, error) {
		return o.Configure(ctx, intent)
	})
}

// runIntentCommand loads an intent and hands it to op. With --from-current
// the intent is rebuilt from the host's own files instead, so a configure
// rewrites the documents without changing what they say.
func runIntentCommand(ctx context.Context, args []string, base commonFlags, name string, allowCurrent bool, op intentOp) error {
	fs := newFlagSet(name)
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var intentPath string
	var secretsName string
	var skipTelegram bool
	var fromCurrent bool
	var help bool
	fs.StringVar(&intentPath, "intent", "", "operator intent file (yaml or json)")
	fs.StringVar(&secretsName, "secrets", "", "credentials bundle name or path")
	fs.BoolVar(&skipTelegram, "skip-telegram-check", false, "do not validate the bot token with Telegram")
	line := name + " --intent <file> [--secrets <bundle>] [--skip-telegram-check] <target flags>"
	if allowCurrent {
		fs.BoolVar(&fromCurrent, "from-current", false, "rebuild the intent from the host's current configuration")
		line = name + " (--intent <file> | --from-current) [--secrets <bundle>] [--skip-telegram-check] <target flags>"
	}
	bindHelp(fs, &help)
	usage := usageLine(line)
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		usage()
		return newCLIError(fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " ")), "")
	}
	if fromCurrent && strings.TrimSpace(intentPath) != "" {
		usage()
		return newCLIError("--intent and --from-current are mutually exclusive", "")
	}

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.loadSecrets(ctx, secretsName); err != nil {
		return err
	}
	checkTelegram := func(intent gatewayconfig.Intent) error {
		if intent.TelegramToken == "" || skipTelegram {
			return nil
		}
		bot, err := validateTelegram(ctx, intent.TelegramToken, telegram.Options{})
		if err != nil {
			return wrapCLIError(err, "telegram bot token rejected: "+err.Error(), "check telegram_token in the intent or bundle",
				"pass --skip-telegram-check when the host cannot reach api.telegram.org")
		}
		a.logger.Info("telegram bot verified", "username", bot.Username)
		return nil
	}

	var intent gatewayconfig.Intent
	if !fromCurrent {
		if intent, err = a.loadIntent(intentPath); err != nil {
			return err
		}
		if err := checkTelegram(intent); err != nil {
			return err
		}
	}

	conn, err := openConnection(ctx, a, tf)
	if err != nil {
		return err
	}
	defer conn.close()
	o := a.orchestrator(conn)
	if fromCurrent {
		current, err := o.ReadCurrentConfig(ctx)
		if err != nil {
			return wrapCLIError(err, "read current configuration: "+err.Error(), "run clawnetes configure --intent <file> instead")
		}
		intent = current.Intent()
		a.adoptIntent(&intent)
		if err := checkTelegram(intent); err != nil {
			return err
		}
	}
	report, err := op(ctx, o, intent)
	if perr := printReport(report, opts.jsonOutput); perr != nil && err == nil {
		err = perr
	}
	return err
}

func runStart(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("start")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var port int
	var help bool
	fs.IntVar(&port, "gateway-port", 0, "gateway port (default from config)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("start [--gateway-port <port>] <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		report, err := a.orchestrator(conn).StartGateway(ctx, a.gatewayPort(port))
		if perr := printReport(report, opts.jsonOutput); perr != nil && err == nil {
			err = perr
		}
		return err
	})
}

type statusOutput struct {
	Target      string          `json:"target"`
	State       provision.State `json:"state"`
	GatewayPort int             `json:"gateway_port"`
	provision.Prerequisites
	Version string `json:"openclaw_version"`
}

func runStatus(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("status")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var port int
	var help bool
	fs.IntVar(&port, "gateway-port", 0, "gateway port (default from config)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("status [--gateway-port <port>] <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		o := a.orchestrator(conn)
		out := statusOutput{Target: conn.label, GatewayPort: a.gatewayPort(port)}
		var err error
		if out.Prerequisites, err = o.CheckPrerequisites(ctx); err != nil {
			return err
		}
		if out.Version, err = o.Version(ctx); err != nil {
			return err
		}
		if out.State, err = o.DetectState(ctx, out.GatewayPort); err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, out)
		}
		fmt.Fprintf(stdoutWriter, "target:    %s\n", out.Target)
		fmt.Fprintf(stdoutWriter, "state:     %s\n", out.State)
		fmt.Fprintf(stdoutWriter, "node:      %s\n", yesNo(out.Node))
		fmt.Fprintf(stdoutWriter, "openclaw:  %s\n", out.Version)
		fmt.Fprintf(stdoutWriter, "port:      %d\n", out.GatewayPort)
		return nil
	})
}

func runConfigCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes config show [--show-secrets] <target flags>")
		return nil
	}
	switch args[0] {
	case "show":
		return runConfigShow(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown config command %q", args[0]), "clawnetes config show")
	}
}

func runConfigShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("config show")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var showSecrets bool
	var help bool
	fs.BoolVar(&showSecrets, "show-secrets", false, "print api keys and tokens in clear")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("config show [--show-secrets] <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		current, err := a.orchestrator(conn).ReadCurrentConfig(ctx)
		if err != nil {
			return err
		}
		if !showSecrets {
			current = maskSecrets(current)
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, current)
		}
		printCurrentConfig(current)
		return nil
	})
}

func maskSecrets(c gatewayconfig.CurrentConfig) gatewayconfig.CurrentConfig {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return redact.Marker
	}
	c.APIKey = mask(c.APIKey)
	c.TelegramToken = mask(c.TelegramToken)
	c.GatewayToken = mask(c.GatewayToken)
	if len(c.ServiceKeys) > 0 {
		masked := make(map[string]string, len(c.ServiceKeys))
		for k, v := range c.ServiceKeys {
			masked[k] = mask(v)
		}
		c.ServiceKeys = masked
	}
	return c
}

func printCurrentConfig(c gatewayconfig.CurrentConfig) {
	rows := [][2]string{
		{"provider", c.Provider},
		{"auth", c.AuthMethod},
		{"model", c.Model},
		{"fallbacks", strings.Join(c.FallbackModels, ", ")},
		{"agent", strings.TrimSpace(c.AgentEmoji + " " + c.AgentName)},
		{"agent type", c.AgentType},
		{"user", c.UserName},
		{"gateway", fmt.Sprintf("%s:%d (%s auth)", c.GatewayBind, c.GatewayPort, c.GatewayAuthMode)},
		{"gateway token", c.GatewayToken},
		{"api key", c.APIKey},
		{"telegram", c.TelegramToken},
		{"pairing", string(c.Pairing)},
		{"sandbox", c.SandboxMode},
		{"tools", c.ToolsMode},
		{"heartbeat", c.HeartbeatMode},
		{"memory", yesNo(c.MemoryEnabled)},
		{"skills", strings.Join(c.Skills, ", ")},
	}
	for _, row := range rows {
		if strings.TrimSpace(row[1]) == "" {
			continue
		}
		fmt.Fprintf(stdoutWriter, "%-14s %s\n", row[0]+":", row[1])
	}
	if len(c.ServiceKeys) > 0 {
		keys := make([]string, 0, len(c.ServiceKeys))
		for k := range c.ServiceKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(stdoutWriter, "%-14s %s\n", "service keys:", strings.Join(keys, ", "))
	}
	for _, agent := range c.Agents {
		fmt.Fprintf(stdoutWriter, "%-14s %s (%s) %s\n", "agent:", agent.ID, agent.Name, agent.Model)
	}
	for _, job := range c.CronJobs {
		fmt.Fprintf(stdoutWriter, "%-14s %s %s\n", "cron:", job.Schedule, job.Name)
	}
}

func runPairingCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes pairing <status|approve <code>> <target flags>")
		return nil
	}
	switch args[0] {
	case "status":
		return runPairingStatus(ctx, args[1:], base)
	case "approve":
		return runPairingApprove(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown pairing command %q", args[0]), "clawnetes pairing status")
	}
}

func runPairingStatus(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("pairing status")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("pairing status <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		state, err := a.orchestrator(conn).PairingStatus(ctx)
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, map[string]any{"pairing_state": state, "is_paired": state.IsPaired()})
		}
		fmt.Fprintf(stdoutWriter, "pairing: %s\n", state)
		if state == gatewayconfig.PairingPending {
			fmt.Fprintln(stdoutWriter, "next: message the bot, then run clawnetes pairing approve <code>")
		}
		return nil
	})
}

func runPairingApprove(ctx context.Context, args []string, base commonFlags) error {
	var code string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		code, args = args[0], args[1:]
	}
	fs := newFlagSet("pairing approve")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var help bool
	bindHelp(fs, &help)
	usage := usageLine("pairing approve <code> <target flags>")
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if code == "" && fs.NArg() == 1 {
		code = fs.Arg(0)
	}
	if code == "" {
		usage()
		return newCLIError("pairing code is required", "", "the bot replies with a code after you message it")
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		if err := a.orchestrator(conn).ApprovePairing(ctx, code); err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, map[string]any{"approved": true})
		}
		fmt.Fprintln(stdoutWriter, "pairing approved")
		return nil
	})
}

func runDashboard(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("dashboard")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var port int
	var help bool
	fs.IntVar(&port, "gateway-port", 0, "gateway port (default from config)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("dashboard [--gateway-port <port>] <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		url, err := a.orchestrator(conn).DashboardURL(ctx, a.gatewayPort(port))
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, map[string]string{"url": url})
		}
		fmt.Fprintln(stdoutWriter, url)
		if conn.target != nil {
			fmt.Fprintln(stdoutWriter, "hint: the address is on the host's loopback; run clawnetes tunnel --host "+conn.target.String()+" to reach it")
		}
		return nil
	})
}

// withTarget builds the app, opens the execution context and runs fn.
func withTarget(ctx context.Context, opts commonFlags, tf targetFlags, fn func(a *app, conn *connection) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	conn, err := openConnection(ctx, a, tf)
	if err != nil {
		return err
	}
	defer conn.close()
	return fn(a, conn)
}
