package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplehq/ripple/internal/store"
)

func TestServeShutsDownOnContextCancel(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serve.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"serve", "--db", dbPath, "--listen", "127.0.0.1:0"})

	err = cmd.ExecuteContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Listening on 127.0.0.1:0")
}

func TestServeRejectsMissingDatabase(t *testing.T) {
	_, err := execute(t, "serve",
		"--db", filepath.Join(t.TempDir(), "absent", "nested", "serve.db"),
		"--listen", "127.0.0.1:0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeRejectsBadPolicyDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serve.db")
	_, err := execute(t, "serve",
		"--db", dbPath,
		"--policy", filepath.Join(t.TempDir(), "absent"),
		"--listen", "127.0.0.1:0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
