package policy

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplehq/ripple/internal/entity"
)

func TestDefaultCoversAllKnownRules(t *testing.T) {
	p := Default()
	assert.Equal(t, KnownRules, p.Names())

	for _, name := range KnownRules {
		r, ok := p.Rule(name)
		require.True(t, ok, name)
		assert.True(t, r.Enabled, name)
		assert.NotEmpty(t, r.Title, name)
		assert.NotEmpty(t, r.Message, name)
		assert.True(t, entity.IsValidSeverity(r.Severity), name)
	}
}

func TestRenderExpandsPlaceholders(t *testing.T) {
	p := Default()
	r, ok := p.Rule(RuleTaskAssigned)
	require.True(t, ok)

	title, message := r.Render(map[string]string{
		"task":    "Ship it",
		"project": "Launch",
	})
	assert.Equal(t, "Task assigned", title)
	assert.Equal(t, `You were assigned to "Ship it" in Launch`, message)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	r := Rule{Title: "t", Message: "{who} did {what}"}
	_, message := r.Render(map[string]string{"who": "Jane"})
	assert.Equal(t, "Jane did {what}", message)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	override := `package policy

rule: "comment.added": enabled: false
rule: "member.removed": {
	severity: "error"
	message:  "You no longer have access to {project}"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.cue"), []byte(override), 0o644))

	p, err := Load(dir)
	require.NoError(t, err)

	assert.False(t, p.Enabled(RuleCommentAdded))
	assert.True(t, p.Enabled(RuleCommentMentioned))

	r, ok := p.Rule(RuleMemberRemoved)
	require.True(t, ok)
	assert.Equal(t, entity.SeverityError, r.Severity)
	assert.Equal(t, "You no longer have access to {project}", r.Message)
	// Title not overridden, kept from defaults.
	assert.Equal(t, "Removed from project", r.Title)
}

func TestLoadRejectsUnknownRule(t *testing.T) {
	dir := t.TempDir()
	bad := `package policy

rule: "task.exploded": enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(bad), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "task.exploded", perr.Rule)
}

func TestLoadRejectsBadSeverity(t *testing.T) {
	dir := t.TempDir()
	bad := `package policy

rule: "task.assigned": severity: "loud"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(bad), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "severity")
}

func TestLoadRejectsEmptyDir(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestFromValueRequiresContentWhenEnabled(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`rule: "task.assigned": { enabled: true, title: "", message: "" }`)
	require.NoError(t, v.Err())

	_, err := fromValue(v, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title and message")
}
