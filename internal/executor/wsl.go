package executor

import (
	"context"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// DefaultWSLDistro is used when no Ubuntu distribution is detected.
const DefaultWSLDistro = "Ubuntu"

// WSL runs commands inside a Windows Subsystem for Linux distribution.
type WSL struct {
	Distro string
	// User runs the command as this WSL user, e.g. "root" for package installs.
	User string
}

func (w WSL) Describe() string {
	return "wsl " + w.distro()
}

func (w WSL) Execute(ctx context.Context, command string) (Result, error) {
	return runArgv(ctx, w.argv(command), nil, command)
}

// AsRoot returns a copy that runs commands as root.
func (w WSL) AsRoot() WSL {
	w.User = "root"
	return w
}

func (w WSL) argv(command string) []string {
	argv := []string{"wsl", "-d", w.distro()}
	if strings.TrimSpace(w.User) != "" {
		argv = append(argv, "--user", strings.TrimSpace(w.User))
	}
	return append(argv, "--", "/bin/bash", "-c", command)
}

func (w WSL) distro() string {
	if strings.TrimSpace(w.Distro) == "" {
		return DefaultWSLDistro
	}
	return strings.TrimSpace(w.Distro)
}

// DetectDistro lists installed distributions and returns the first Ubuntu
// one, falling back to DefaultWSLDistro.
func DetectDistro(ctx context.Context) string {
	result, err := runArgv(ctx, []string{"wsl", "-l", "-q"}, nil, "wsl -l -q")
	if err != nil {
		return DefaultWSLDistro
	}
	return PickUbuntu(ParseDistroList([]byte(result.Stdout)))
}

// PickUbuntu returns the first name starting with "ubuntu" in any case.
func PickUbuntu(distros []string) string {
	for _, name := range distros {
		if strings.HasPrefix(strings.ToLower(name), "ubuntu") {
			return name
		}
	}
	return DefaultWSLDistro
}

// ParseDistroList decodes `wsl -l -q` output. Windows writes UTF-16LE with
// or without a BOM; plain UTF-8 is accepted when the UTF-16 reading does not
// look like a distro list.
func ParseDistroList(raw []byte) []string {
	text := string(raw)
	if len(raw) >= 2 {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, err := decoder.Bytes(raw); err == nil {
			hasBOM := raw[0] == 0xFF && raw[1] == 0xFE
			if hasBOM || strings.Contains(strings.ToLower(string(decoded)), "ubuntu") {
				text = string(decoded)
			}
		}
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		name := strings.Trim(strings.TrimSpace(line), "\x00")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
