package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayEmitsClientEvents(t *testing.T) {
	db := seedDB(t)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "user:changed")
	assert.Contains(t, out, "project:changed")
	assert.Contains(t, out, "task:changed")
	// 2 users + 1 project + 1 task seeded.
	assert.Contains(t, out, "replayed 4 changes, emitted 4 events")
}

func TestReplaySingleCollection(t *testing.T) {
	db := seedDB(t)

	out, err := execute(t, "replay", "--db", db, "--collection", "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "task:changed")
	assert.NotContains(t, out, "user:changed")
	assert.Contains(t, out, "replayed 1 changes, emitted 1 events")
}

func TestReplayJSONOutput(t *testing.T) {
	db := seedDB(t)

	out, err := execute(t, "--format", "json", "replay", "--db", db, "--collection", "projects")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 1, result.Changes)
	require.Len(t, result.Frames, 1)
	assert.Equal(t, "project:changed", result.Frames[0].Event)

	var env struct {
		Event     string         `json:"event"`
		Operation string         `json:"operation"`
		ID        string         `json:"id"`
		Document  map[string]any `json:"document"`
	}
	require.NoError(t, json.Unmarshal(result.Frames[0].Payload, &env))
	assert.Equal(t, "p1", env.ID)
	assert.Equal(t, "insert", env.Operation)
}

func TestReplayUnknownCollection(t *testing.T) {
	db := seedDB(t)

	_, err := execute(t, "replay", "--db", db, "--collection", "widgets")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
