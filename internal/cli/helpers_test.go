package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	specsDir     = filepath.Join("..", "..", "testdata", "specs")
	scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")
)

// cliEnv runs commands against one temporary database.
type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "bizflow.db")}
}

// run executes the root command with the env's database and specs and
// returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	full := append([]string{"--db", e.db, "--specs", specsDir}, args...)
	return execute(e.t, full...)
}

// mustRun is run that fails the test on error.
func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

// execute runs a fresh root command and returns stdout. Logs go to a
// discarded stderr buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// decodeData decodes a JSON envelope and returns its data payload.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   T         `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	return resp.Data
}
