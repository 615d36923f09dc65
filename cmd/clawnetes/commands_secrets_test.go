package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/clawnetes/clawnetes/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsSealRoundTrip(t *testing.T) {
	h := newCLIHarness(t)
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keyPath := h.writeFile("age.key", identity.String()+"\n")
	in := h.writeFile("bundle.yaml", "api_key: sk-sealed-0123456789\ntelegram_token: \"123456:ABCdef\"\n")

	require.NoError(t, h.run("secrets", "seal", "team", "--recipient", identity.Recipient().String(), "--in", in))

	sealed := filepath.Join(h.dir, "secrets", "team.age")
	assert.Contains(t, h.stdout.String(), "sealed "+sealed+" for 1 recipient(s)")
	info, err := os.Stat(sealed)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	raw, err := os.ReadFile(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-sealed-0123456789")

	store := secrets.Store{Dir: filepath.Join(h.dir, "secrets"), AgeKeyPath: keyPath}
	bundle, err := store.Load(context.Background(), "team")
	require.NoError(t, err)
	assert.Equal(t, "sk-sealed-0123456789", bundle.APIKey)
	assert.Equal(t, "123456:ABCdef", bundle.TelegramToken)

	err = h.run("secrets", "seal", "team", "--recipient", identity.Recipient().String(), "--in", in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	var out map[string]any
	h.runJSON(&out, "secrets", "seal", "team", "--recipient", identity.Recipient().String(), "--in", in, "--force")
	assert.Equal(t, sealed, out["path"])
	assert.EqualValues(t, 1, out["recipients"])
}

func TestSecretsSealFromStdinWithRecipientsFile(t *testing.T) {
	h := newCLIHarness(t)
	first, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	second, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	recipients := h.writeFile("recipients.txt", "# operators\n"+second.Recipient().String()+"\n")
	stdinReader = strings.NewReader("service_keys:\n  BRAVE_API_KEY: brave-0123456789\n")
	out := filepath.Join(h.dir, "shared", "ops.age")

	require.NoError(t, h.run("secrets", "seal", out, "--recipient", first.Recipient().String(), "--recipients-file", recipients))
	assert.Contains(t, h.stdout.String(), "for 2 recipient(s)")

	keyPath := h.writeFile("second.key", second.String()+"\n")
	bundle, err := secrets.Store{AgeKeyPath: keyPath}.Load(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, "brave-0123456789", bundle.ServiceKeys["BRAVE_API_KEY"])
}

func TestSecretsSealArguments(t *testing.T) {
	h := newCLIHarness(t)
	in := h.writeFile("bundle.yaml", "api_key: sk-sealed-0123456789\n")

	err := h.run("secrets", "seal", "--in", in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle name is required")

	err = h.run("secrets", "seal", "team", "--in", in)
	require.Error(t, err)
	_, next, _ := describeError(err)
	assert.Contains(t, next, "--recipient")

	err = h.run("secrets", "seal", "team", "--recipient", "age1notakey", "--in", in)
	require.Error(t, err)

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	bad := h.writeFile("bad.yaml", "api_key: [unclosed\n")
	err = h.run("secrets", "seal", "team", "--recipient", identity.Recipient().String(), "--in", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse bundle")

	err = h.run("secrets", "rotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown secrets command")
	assert.NoFileExists(t, filepath.Join(h.dir, "secrets", "team.age"))
}
