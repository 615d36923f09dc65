package main

import (
	"errors"
	"testing"
	"time"

	"github.com/clawnetes/clawnetes/internal/sshsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetFlagsValidate(t *testing.T) {
	cases := []struct {
		name string
		tf   targetFlags
		want string
	}{
		{"none", targetFlags{}, "no target selected"},
		{"host and local", targetFlags{host: "sam@gw", local: true}, "mutually exclusive"},
		{"local and wsl", targetFlags{local: true, wsl: true}, "mutually exclusive"},
		{"missing user", targetFlags{host: "gw"}, "ssh user is required"},
		{"bad port", targetFlags{host: "sam@gw", port: 70000}, "invalid --port 70000"},
		{"identity on local", targetFlags{local: true, identity: "/k"}, "only apply to --host"},
		{"password on wsl", targetFlags{wsl: true, passwordStdin: true}, "only apply to --host"},
		{"remote", targetFlags{host: "gw", user: "sam"}, ""},
		{"remote inline user", targetFlags{host: "sam@gw:2222"}, ""},
		{"local", targetFlags{local: true}, ""},
		{"wsl", targetFlags{wsl: true, distro: "Ubuntu"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tf.validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTargetFlagsSSHTarget(t *testing.T) {
	tf := targetFlags{host: "root@gw.example:2200", user: "sam", identity: "/keys/id", timeout: time.Second}
	got := tf.sshTarget("pw")
	assert.Equal(t, sshsession.Target{
		Host:     "gw.example",
		Port:     2200,
		User:     "sam",
		KeyPath:  "/keys/id",
		Password: "pw",
		Timeout:  time.Second,
	}, got)

	tf = targetFlags{host: "gw.example", user: "sam", port: 2022}
	assert.Equal(t, "sam@gw.example:2022", tf.sshTarget("").String())
}

func TestParseFlagsHelp(t *testing.T) {
	h := newCLIHarness(t)
	fs := newFlagSet("probe")
	var help bool
	bindHelp(fs, &help)
	err := parseFlags(fs, []string{"-h"}, usageLine("probe"), &help)
	require.True(t, errors.Is(err, errHelp))
	assert.Equal(t, "Usage: clawnetes probe\n", h.stdout.String())

	fs = newFlagSet("probe")
	bindHelp(fs, &help)
	require.Error(t, parseFlags(fs, []string{"--unknown"}, usageLine("probe"), &help))
}
