package provision

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedOS is returned when the runtime must be installed on an
	// OS family other than Linux or Darwin.
	ErrUnsupportedOS = errors.New("unsupported operating system")
	// ErrNoPendingPairing means the pairing code did not match a request.
	ErrNoPendingPairing = errors.New("invalid pairing code: send a message to the bot first, then try again")
	// ErrTokenNotFound means the config has no gateway.auth.token.
	ErrTokenNotFound = errors.New("could not find gateway token in config")
)

// StartError reports a gateway start whose output signals failure.
type StartError struct {
	Output string
}

func (e *StartError) Error() string {
	return "gateway start may have failed: " + strings.TrimSpace(e.Output)
}

// VerificationTimeoutError is returned when the gateway never became
// reachable within the retry budget.
type VerificationTimeoutError struct {
	Port        int
	Attempts    int
	LastStatus  string
	FinalStatus string
	Remediation []string
}

func (e *VerificationTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway did not become reachable on port %d after %d attempts", e.Port, e.Attempts)
	if e.LastStatus != "" {
		fmt.Fprintf(&b, "\nlast status: %s", e.LastStatus)
	}
	if e.FinalStatus != "" {
		fmt.Fprintf(&b, "\nfinal gateway status:\n%s", strings.TrimSpace(e.FinalStatus))
	}
	if len(e.Remediation) > 0 {
		b.WriteString("\n\ntroubleshooting:")
		for i, line := range e.Remediation {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, line)
		}
	}
	return b.String()
}

func remediation(port int) []string {
	return []string{
		"check gateway logs: openclaw gateway logs",
		"check gateway status: openclaw gateway status",
		"try a manual start: openclaw gateway stop && openclaw gateway start",
		fmt.Sprintf("check whether port %d is in use: lsof -i :%d", port, port),
	}
}
