package cli

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ShutsDownOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{
		"--db", filepath.Join(t.TempDir(), "bizflow.db"),
		"--specs", specsDir,
		"serve", "--addr", "127.0.0.1:0",
	})

	require.NoError(t, cmd.ExecuteContext(ctx), stderr.String())
	assert.Contains(t, stderr.String(), "server starting")
	assert.Contains(t, stderr.String(), "shutting down")
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	out, err := execute(t, "--db", filepath.Join(t.TempDir(), "bizflow.db"), "serve", "--addr", ln.Addr().String())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "listen")
}

func TestServe_RejectsArgs(t *testing.T) {
	_, err := execute(t, "serve", "extra")
	require.Error(t, err)
}
