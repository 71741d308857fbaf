package testutil

import "fmt"

// SequentialFlows returns n flow tokens "<prefix>-001" .. "<prefix>-NNN"
// for use with engine.NewFixedGenerator.
func SequentialFlows(prefix string, n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%s-%03d", prefix, i+1)
	}
	return tokens
}
