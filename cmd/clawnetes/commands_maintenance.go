package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/provision"
)

func runMaintenanceCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes maintenance <version|update|uninstall|doctor|audit> <target flags>")
		return nil
	}
	name := args[0]
	fs := newFlagSet("maintenance " + name)
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var force bool
	var help bool
	if name == "uninstall" {
		fs.BoolVar(&force, "force", false, "skip the confirmation prompt")
	}
	bindHelp(fs, &help)
	switch name {
	case "version", "update", "uninstall", "doctor", "audit":
	default:
		return newCLIError(fmt.Sprintf("unknown maintenance command %q", name), "clawnetes maintenance --help")
	}
	if err := parseFlags(fs, args[1:], usageLine("maintenance "+name+" <target flags>"), &help); err != nil {
		return err
	}
	if name == "uninstall" {
		if err := requireConfirmation(confirmOptions{action: "uninstall openclaw and remove its data", force: force, jsonOutput: opts.jsonOutput}); err != nil {
			return err
		}
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		o := a.orchestrator(conn)
		switch name {
		case "update":
			return reportResult(o.Update(ctx))(opts.jsonOutput)
		case "uninstall":
			return reportResult(o.Uninstall(ctx))(opts.jsonOutput)
		}
		var out string
		var err error
		switch name {
		case "version":
			out, err = o.Version(ctx)
		case "doctor":
			out, err = o.Doctor(ctx)
		case "audit":
			out, err = o.SecurityAudit(ctx)
		}
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, map[string]string{"command": name, "output": out})
		}
		fmt.Fprintln(stdoutWriter, out)
		return nil
	})
}

func reportResult(report provision.Report, err error) func(jsonOutput bool) error {
	return func(jsonOutput bool) error {
		if perr := printReport(report, jsonOutput); perr != nil && err == nil {
			return perr
		}
		return err
	}
}

// listDistros is replaced in tests.
var listDistros = func(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "wsl", "-l", "-q").Output()
}

func runWSLCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes wsl list")
		return nil
	}
	if args[0] != "list" {
		return newCLIError(fmt.Sprintf("unknown wsl command %q", args[0]), "clawnetes wsl list")
	}
	fs := newFlagSet("wsl list")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if err := parseFlags(fs, args[1:], usageLine("wsl list"), &help); err != nil {
		return err
	}
	raw, err := listDistros(ctx)
	if err != nil {
		return wrapCLIError(err, "cannot list WSL distributions: "+err.Error(), "", "WSL is only available on Windows hosts")
	}
	distros := executor.ParseDistroList(raw)
	preferred := executor.PickUbuntu(distros)
	if opts.jsonOutput {
		if distros == nil {
			distros = []string{}
		}
		return writeJSON(stdoutWriter, map[string]any{"distros": distros, "default": preferred})
	}
	if len(distros) == 0 {
		fmt.Fprintln(stdoutWriter, "no WSL distributions installed")
		return nil
	}
	for _, name := range distros {
		marker := " "
		if name == preferred {
			marker = "*"
		}
		fmt.Fprintf(stdoutWriter, "%s %s\n", marker, name)
	}
	return nil
}
