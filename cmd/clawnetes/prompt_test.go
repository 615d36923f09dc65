package main

import (
	"strings"
	"testing"
)

func TestRequireConfirmationForce(t *testing.T) {
	if err := requireConfirmation(confirmOptions{action: "uninstall openclaw", force: true, jsonOutput: true}); err != nil {
		t.Fatalf("expected --force to skip confirmation, got %v", err)
	}
}

func TestRequireConfirmationNonInteractive(t *testing.T) {
	newCLIHarness(t)
	err := requireConfirmation(confirmOptions{action: "uninstall openclaw"})
	if err == nil {
		t.Fatalf("expected error for non-interactive confirmation")
	}
	if !strings.Contains(err.Error(), "non-interactive") {
		t.Fatalf("unexpected error %q", err.Error())
	}
	_, _, hints := describeError(err)
	if len(hints) != 1 || !strings.Contains(hints[0], "--force") {
		t.Fatalf("expected --force hint, got %v", hints)
	}
}

func TestRequireConfirmationJSON(t *testing.T) {
	newCLIHarness(t)
	isInteractive = func() bool { return true }
	err := requireConfirmation(confirmOptions{action: "uninstall openclaw", jsonOutput: true})
	if err == nil || !strings.Contains(err.Error(), "--json mode") {
		t.Fatalf("expected json refusal, got %v", err)
	}
}

func TestRequireConfirmationInteractive(t *testing.T) {
	h := newCLIHarness(t)
	isInteractive = func() bool { return true }

	stdinReader = strings.NewReader("yes\n")
	if err := requireConfirmation(confirmOptions{action: "uninstall openclaw"}); err != nil {
		t.Fatalf("expected confirmation to succeed, got %v", err)
	}
	if !strings.Contains(h.stderr.String(), "Confirm uninstall openclaw?") {
		t.Fatalf("prompt not shown: %q", h.stderr.String())
	}

	stdinReader = strings.NewReader("y\n")
	err := requireConfirmation(confirmOptions{action: "uninstall openclaw"})
	if err == nil || err.Error() != "aborted" {
		t.Fatalf("expected abort, got %v", err)
	}
}

func TestPromptYesNo(t *testing.T) {
	ok, err := promptYesNo(strings.NewReader("YES"), nil, "")
	if err != nil || !ok {
		t.Fatalf("promptYesNo = %v, %v", ok, err)
	}
	ok, err = promptYesNo(strings.NewReader(""), nil, "")
	if err != nil || ok {
		t.Fatalf("empty answer = %v, %v", ok, err)
	}
	if _, err := promptYesNo(nil, nil, ""); err == nil {
		t.Fatalf("expected error without stdin")
	}
}

func TestReadPasswordLine(t *testing.T) {
	got, err := readPasswordLine(strings.NewReader("s3cret pass\r\nignored\n"))
	if err != nil || got != "s3cret pass" {
		t.Fatalf("readPasswordLine = %q, %v", got, err)
	}
	got, err = readPasswordLine(strings.NewReader("no-newline"))
	if err != nil || got != "no-newline" {
		t.Fatalf("readPasswordLine = %q, %v", got, err)
	}
	if _, err := readPasswordLine(strings.NewReader("\n")); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
