package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyDir(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.cue"), []byte(src), 0o644))
	return dir
}

func TestValidateAcceptsOverrides(t *testing.T) {
	dir := writePolicyDir(t, `package policy

rule: {
	"comment.added": {
		enabled: false
	}
}
`)

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "disabled: comment.added")
	assert.Contains(t, out, "policy valid (15 rules, 1 disabled)")
}

func TestValidateJSONOutput(t *testing.T) {
	dir := writePolicyDir(t, `package policy

rule: {
	"task.flagged": {
		severity: "error"
	}
}
`)

	out, err := execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ValidationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Valid)
	assert.Len(t, result.Rules, 15)
}

func TestValidateRejectsUnknownRule(t *testing.T) {
	dir := writePolicyDir(t, `package policy

rule: {
	"task.exploded": {
		enabled: true
	}
}
`)

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E_POLICY")
}

func TestValidateMissingDirectory(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
