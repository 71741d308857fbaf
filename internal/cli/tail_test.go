package cli

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailPrintsChangelog(t *testing.T) {
	db := seedDB(t)

	out, err := execute(t, "tail", "tasks", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "insert")
	assert.Contains(t, out, "tasks/t1")
}

func TestTailFromSkipsEarlierChanges(t *testing.T) {
	db := seedDB(t)

	// Everything seeded sits below a high watermark.
	out, err := execute(t, "tail", "tasks", "--db", db, "--from", "1000000")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTailJSONOutput(t *testing.T) {
	db := seedDB(t)

	out, err := execute(t, "--format", "json", "tail", "projects", "--db", db)
	require.NoError(t, err)

	sc := bufio.NewScanner(strings.NewReader(out))
	require.True(t, sc.Scan())
	var entry struct {
		Seq        int64          `json:"seq"`
		Operation  string         `json:"operation"`
		Collection string         `json:"collection"`
		ID         string         `json:"id"`
		Document   map[string]any `json:"document"`
	}
	require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
	assert.Equal(t, "insert", entry.Operation)
	assert.Equal(t, "projects", entry.Collection)
	assert.Equal(t, "p1", entry.ID)
	assert.Equal(t, "Launch", entry.Document["name"])
}

func TestTailRejectsUnknownCollection(t *testing.T) {
	db := seedDB(t)

	_, err := execute(t, "tail", "widgets", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
