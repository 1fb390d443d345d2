package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "pegtmpl", cmd.Use)

	for _, flag := range []string{"config", "project-dir", "actions-dir", "state", "labels", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"build", "parse", "check", "actions", "repl", "serve", "history", "version", "completion"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_Completion(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"completion", "bash"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "pegtmpl")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PEGTMPL_LABEL_POLICY", "loose")

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label_policy")
}

func TestRootCmd_Version(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "pegtmpl v"+Version)
}
