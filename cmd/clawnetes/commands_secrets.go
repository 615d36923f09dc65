package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/clawnetes/clawnetes/internal/secrets"
)

func runSecretsCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes secrets seal <name> --recipient <age1...> [--recipients-file <path>] [--in <file>] [--force]")
		return nil
	}
	switch args[0] {
	case "seal":
		return runSecretsSeal(ctx, args[1:], base)
	default:
		return newCLIError(fmt.Sprintf("unknown secrets command %q", args[0]), "clawnetes secrets seal <name>")
	}
}

// runSecretsSeal encrypts a plaintext YAML bundle for age recipients. A bare
// name lands in the configured secrets directory as <name>.age, where
// --secrets finds it.
func runSecretsSeal(ctx context.Context, args []string, base commonFlags) error {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	fs := newFlagSet("secrets seal")
	opts := base
	opts.bind(fs)
	var recipients stringList
	var recipientsFile string
	var inPath string
	var force bool
	var help bool
	fs.Var(&recipients, "recipient", "age recipient public key (repeatable)")
	fs.StringVar(&recipientsFile, "recipients-file", "", "file with one age recipient per line")
	fs.StringVar(&inPath, "in", "-", "plaintext bundle yaml, - for stdin")
	fs.BoolVar(&force, "force", false, "replace an existing bundle")
	bindHelp(fs, &help)
	usage := usageLine("secrets seal <name> --recipient <age1...> [--recipients-file <path>] [--in <file>] [--force]")
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if name == "" && fs.NArg() == 1 {
		name = fs.Arg(0)
	}
	if strings.TrimSpace(name) == "" {
		usage()
		return newCLIError("bundle name is required", "")
	}

	recipientText := strings.Join(recipients, "\n")
	if recipientsFile != "" {
		data, err := os.ReadFile(recipientsFile)
		if err != nil {
			return wrapCLIError(err, fmt.Sprintf("read recipients %s: %v", recipientsFile, err), "")
		}
		recipientText += "\n" + string(data)
	}
	parsed, err := secrets.ParseRecipients([]byte(recipientText))
	if err != nil {
		return wrapCLIError(err, err.Error(), "pass --recipient age1... or --recipients-file",
			"age-keygen -y <key file> prints the recipient of an identity")
	}

	plaintext, err := readBundleInput(inPath)
	if err != nil {
		return err
	}
	bundle, err := secrets.ParseBundle(plaintext)
	if err != nil {
		return wrapCLIError(err, "parse bundle: "+err.Error(), "fix the bundle yaml and re-run")
	}

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.close()
	a.redactor.AddValues(bundle.Values()...)

	outPath := bundlePath(a.cfg.SecretsDir, name)
	if _, err := os.Stat(outPath); err == nil && !force {
		return newCLIError(fmt.Sprintf("bundle %s already exists", outPath), "", "pass --force to replace it")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := writeSealed(outPath, bundle, parsed); err != nil {
		return err
	}
	a.logger.Info("bundle sealed", "path", outPath, "recipients", len(parsed))
	if opts.jsonOutput {
		return writeJSON(stdoutWriter, map[string]any{"path": outPath, "recipients": len(parsed)})
	}
	fmt.Fprintf(stdoutWriter, "sealed %s for %d recipient(s)\n", outPath, len(parsed))
	return nil
}

func readBundleInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdinReader)
		if err != nil {
			return nil, fmt.Errorf("read bundle from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapCLIError(err, fmt.Sprintf("read bundle %s: %v", path, err), "")
	}
	return data, nil
}

// bundlePath resolves a bare name into the secrets directory. Anything that
// looks like a path is used as given.
func bundlePath(dir, name string) string {
	if strings.ContainsRune(name, filepath.Separator) || filepath.Ext(name) != "" {
		return name
	}
	return filepath.Join(dir, name+".age")
}

// writeSealed encrypts into a temp file beside path and renames it into
// place, so a failed seal never leaves a truncated bundle.
func writeSealed(path string, bundle secrets.Bundle, recipients []age.Recipient) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	var buf bytes.Buffer
	if err := secrets.Seal(&buf, bundle, recipients...); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".seal-*")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install bundle: %w", err)
	}
	return nil
}
