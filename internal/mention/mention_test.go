package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var directory = []Candidate{
	{ID: "u-jane", FullName: "Jane Doe", Email: "jane@x.com"},
	{ID: "u-sam", FullName: "Sam Park", Email: "sam@x.com"},
	{ID: "u-noname", FullName: "", Email: "ops@x.com"},
	{ID: "u-empty"},
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "first token match",
			text: "Hello @Jane, check this",
			want: []string{"u-jane"},
		},
		{
			name: "full name match",
			text: "ping @Jane Doe about the release",
			want: []string{"u-jane"},
		},
		{
			name: "email match",
			text: "cc @sam@x.com",
			want: []string{"u-sam"},
		},
		{
			name: "no mentions",
			text: "no mentions here",
			want: nil,
		},
		{
			name: "case sensitive",
			text: "hello @jane",
			want: nil,
		},
		{
			name: "partial first token does not match",
			text: "hello @Jan",
			want: nil,
		},
		{
			name: "multiple recipients",
			text: "@Jane and @Sam please review",
			want: []string{"u-jane", "u-sam"},
		},
		{
			name: "empty full name matches by email only",
			text: "escalate to @ops@x.com",
			want: []string{"u-noname"},
		},
		{
			name: "empty candidate never matches",
			text: "@ everything",
			want: nil,
		},
		{
			name: "repeated mention resolves once",
			text: "@Jane @Jane @Jane",
			want: []string{"u-jane"},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.text, directory))
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	text := "Hello @Jane, and @sam@x.com"
	first := Resolve(text, directory)
	second := Resolve(text, directory)
	assert.Equal(t, first, second)
}

func TestResolve_NoCandidates(t *testing.T) {
	assert.Nil(t, Resolve("@Jane", nil))
}
