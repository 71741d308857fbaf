// Package mention extracts @-addressed users from comment text.
//
// Resolve is a pure function: same inputs always produce the same output
// set, so the matching policy is testable in isolation from the rest of
// the cascade engine.
package mention

import "strings"

// Candidate is one user the resolver may match against.
type Candidate struct {
	ID       string
	FullName string
	Email    string
}

// Resolve returns the IDs of candidates addressed in text, in candidate
// order, each at most once.
//
// A candidate matches if the text contains the literal substring
// "@<fullName>", "@<email>", or "@<firstTokenOfFullName>". Matching is
// case-sensitive substring search with no word-boundary enforcement; a
// full name that is a substring of another candidate's full name can
// double-match. No fuzzy or partial-name matching. Candidates with an
// empty full name only match by email; candidates with neither never
// match.
func Resolve(text string, candidates []Candidate) []string {
	if text == "" || !strings.Contains(text, "@") {
		return nil
	}

	var matched []string
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		if matches(text, c) {
			matched = append(matched, c.ID)
			seen[c.ID] = true
		}
	}
	return matched
}

func matches(text string, c Candidate) bool {
	if c.FullName != "" {
		if strings.Contains(text, "@"+c.FullName) {
			return true
		}
		if first := firstToken(c.FullName); first != "" && strings.Contains(text, "@"+first) {
			return true
		}
	}
	if c.Email != "" && strings.Contains(text, "@"+c.Email) {
		return true
	}
	return false
}

// firstToken returns the first whitespace-delimited token of a full name.
func firstToken(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
