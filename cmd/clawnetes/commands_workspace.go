package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

func runWorkspaceCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes workspace <show|save> [--agent <id>] <target flags>")
		return nil
	}
	switch args[0] {
	case "show":
		return runWorkspaceShow(ctx, args[1:], base)
	case "save":
		return runWorkspaceSave(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown workspace command %q", args[0]), "clawnetes workspace show")
	}
}

func runWorkspaceShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("workspace show")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var agentID string
	var help bool
	fs.StringVar(&agentID, "agent", "", "agent id (default: shared workspace)")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("workspace show [--agent <id>] <target flags>"), &help); err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		files, err := a.orchestrator(conn).ReadWorkspace(ctx, agentID)
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return writeJSON(stdoutWriter, files)
		}
		for _, doc := range []struct{ name, content string }{
			{gatewayconfig.IdentityFileName, files.Identity},
			{gatewayconfig.UserFileName, files.User},
			{gatewayconfig.SoulFileName, files.Soul},
		} {
			fmt.Fprintf(stdoutWriter, "==> %s <==\n", doc.name)
			if strings.TrimSpace(doc.content) == "" {
				fmt.Fprintln(stdoutWriter, "(missing)")
				continue
			}
			fmt.Fprintln(stdoutWriter, strings.TrimRight(doc.content, "\n"))
		}
		return nil
	})
}

// runWorkspaceSave replaces the identity documents given on the command line.
// Documents not given keep their current content.
func runWorkspaceSave(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("workspace save")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var agentID, identityPath, userPath, soulPath string
	var help bool
	fs.StringVar(&agentID, "agent", "", "agent id (default: shared workspace)")
	fs.StringVar(&identityPath, "identity-file", "", "new IDENTITY.md")
	fs.StringVar(&userPath, "user-file", "", "new USER.md")
	fs.StringVar(&soulPath, "soul-file", "", "new SOUL.md")
	bindHelp(fs, &help)
	usage := usageLine("workspace save [--agent <id>] [--identity-file <path>] [--user-file <path>] [--soul-file <path>] <target flags>")
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if identityPath == "" && userPath == "" && soulPath == "" {
		usage()
		return newCLIError("nothing to save", "", "pass at least one of --identity-file, --user-file, --soul-file")
	}
	read := func(p string) (*string, error) {
		if p == "" {
			return nil, nil
		}
		content, err := readContentFile(p)
		return &content, err
	}
	identity, err := read(identityPath)
	if err != nil {
		return err
	}
	user, err := read(userPath)
	if err != nil {
		return err
	}
	soul, err := read(soulPath)
	if err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		o := a.orchestrator(conn)
		files, err := o.ReadWorkspace(ctx, agentID)
		if err != nil {
			return err
		}
		for _, u := range []struct {
			dst *string
			src *string
		}{{&files.Identity, identity}, {&files.User, user}, {&files.Soul, soul}} {
			if u.src != nil {
				*u.dst = *u.src
			}
		}
		report, err := o.SaveWorkspace(ctx, files)
		if perr := printReport(report, opts.jsonOutput); perr != nil && err == nil {
			err = perr
		}
		return err
	})
}

func runSkillCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes skill create <name> --file <path> <target flags>")
		return nil
	}
	switch args[0] {
	case "create":
		return runSkillCreate(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown skill command %q", args[0]), "clawnetes skill create <name> --file <path>")
	}
}

func runSkillCreate(ctx context.Context, args []string, base commonFlags) error {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	fs := newFlagSet("skill create")
	opts := base
	opts.bind(fs)
	var tf targetFlags
	tf.bind(fs)
	var filePath string
	var help bool
	fs.StringVar(&filePath, "file", "", "SKILL.md content, - for stdin")
	bindHelp(fs, &help)
	usage := usageLine("skill create <name> --file <path> <target flags>")
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if name == "" && fs.NArg() == 1 {
		name = fs.Arg(0)
	}
	if name == "" || filePath == "" {
		usage()
		return newCLIError("skill name and --file are required", "")
	}
	if err := gatewayconfig.ValidateSlug("skill name", name); err != nil {
		return newCLIError(err.Error(), "")
	}
	content, err := readContentFile(filePath)
	if err != nil {
		return err
	}
	return withTarget(ctx, opts, tf, func(a *app, conn *connection) error {
		report, err := a.orchestrator(conn).CreateSkill(ctx, name, content)
		if perr := printReport(report, opts.jsonOutput); perr != nil && err == nil {
			err = perr
		}
		return err
	})
}

// readContentFile reads a document from path, or from stdin for "-".
func readContentFile(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdinReader)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapCLIError(err, fmt.Sprintf("read %s: %v", path, err), "")
	}
	return string(data), nil
}
