package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "bizflow", cmd.Use)
	assert.Contains(t, cmd.Long, "audit trail")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"apply"}, {"test"}, {"serve"}, {"trigger"},
		{"entity", "create"}, {"entity", "update"}, {"entity", "delete"}, {"entity", "get"}, {"entity", "list"},
		{"audit", "list"}, {"audit", "show"}, {"audit", "note"},
		{"sender", "add"},
		{"session", "login"}, {"session", "logout"},
		{"rule", "list"}, {"rule", "export"}, {"rule", "enable"}, {"rule", "disable"}, {"rule", "delete"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "specs"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Empty(t, f.DefValue)
	}
}

func TestScopeFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"entity", "create"}, {"trigger"}, {"session", "login"}, {"audit", "note"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		for _, name := range []string{"actor", "ip", "session"} {
			assert.NotNil(t, sub.Flag(name), "%v --%s", path, name)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", specsDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestUnknownFlag(t *testing.T) {
	_, err := execute(t, "audit", "list", "--bogus")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBadConfigFile(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/bizflow.yaml", "rule", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "load config")
}
