package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/clawnetes/clawnetes/internal/sshsession"
)

const jsonFlagDescription = "output json"

var errHelp = errors.New("help requested")

type commonFlags struct {
	configPath string
	jsonOutput bool
	logLevel   string
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", c.configPath, "config file path")
	fs.BoolVar(&c.jsonOutput, "json", c.jsonOutput, jsonFlagDescription)
	fs.StringVar(&c.logLevel, "log-level", c.logLevel, "log level (debug, info, warn, error)")
}

// targetFlags select the execution context a command runs against.
type targetFlags struct {
	host          string
	user          string
	port          int
	identity      string
	passwordStdin bool
	local         bool
	wsl           bool
	distro        string
	timeout       time.Duration
}

func (t *targetFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&t.host, "host", "", "ssh host (user@host:port accepted)")
	fs.StringVar(&t.user, "user", "", "ssh user")
	fs.IntVar(&t.port, "port", 0, "ssh port (default 22)")
	fs.StringVar(&t.identity, "identity", "", "ssh private key path")
	fs.BoolVar(&t.passwordStdin, "password-stdin", false, "read the ssh password from stdin")
	fs.BoolVar(&t.local, "local", false, "run on this machine")
	fs.BoolVar(&t.wsl, "wsl", false, "run inside WSL")
	fs.StringVar(&t.distro, "distro", "", "WSL distribution")
}

func (t targetFlags) validate() error {
	chosen := 0
	for _, set := range []bool{strings.TrimSpace(t.host) != "", t.local, t.wsl} {
		if set {
			chosen++
		}
	}
	switch {
	case chosen == 0:
		return newCLIError("no target selected", "", "pass --host <host>, --local or --wsl")
	case chosen > 1:
		return newCLIError("--host, --local and --wsl are mutually exclusive", "")
	}
	if t.port < 0 || t.port > 65535 {
		return newCLIError(fmt.Sprintf("invalid --port %d", t.port), "")
	}
	if t.remote() {
		target := t.sshTarget("")
		if strings.TrimSpace(target.User) == "" {
			return newCLIError("ssh user is required", "", "pass --user or use --host user@host")
		}
	} else if t.identity != "" || t.passwordStdin {
		return newCLIError("--identity and --password-stdin only apply to --host targets", "")
	}
	return nil
}

func (t targetFlags) remote() bool {
	return strings.TrimSpace(t.host) != ""
}

// sshTarget merges --host with the explicit --user and --port flags.
func (t targetFlags) sshTarget(password string) sshsession.Target {
	target := sshsession.ParseTarget(t.host)
	if t.user != "" {
		target.User = t.user
	}
	if t.port != 0 {
		target.Port = t.port
	}
	target.KeyPath = t.identity
	target.Password = password
	target.Timeout = t.timeout
	return target
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, usage func(), help *bool) error {
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
		return err
	}
	if help != nil && *help {
		usage()
		return errHelp
	}
	return nil
}

func bindHelp(fs *flag.FlagSet, help *bool) {
	fs.BoolVar(help, "help", false, "show help")
	fs.BoolVar(help, "h", false, "show help")
}

func usageLine(line string) func() {
	return func() {
		fmt.Fprintln(stdoutWriter, "Usage: clawnetes "+line)
	}
}
