// Package parse implements the Structured LLM Executor's permissive
// response decoding (spec.md §4.12: "XML parsing is permissive
// (best-effort, element- and attribute-based); JSON and YAML accept
// fenced code blocks; unrecognized fields are ignored; missing required
// fields raise a parse error carrying the raw response preview").
package parse

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)\\n```")

// StripFence extracts the first fenced code block's body if present,
// otherwise returns the input unchanged trimmed of surrounding
// whitespace.
func StripFence(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
