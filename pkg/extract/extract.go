// Package extract recovers structured decisions from raw model completions.
// Model output is untrusted free-form text; extraction tries a fixed sequence
// of progressively looser strategies and never panics on malformed input.
package extract

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rkapoor/dbagent/pkg/domain"
)

// Fence delimiters bounding machine-readable payloads within prose.
const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// Extract parses a Decision out of a raw completion. Strategies are applied
// in priority order, returning the first success:
//
//  1. The entire string is a valid decision object.
//  2. A valid decision object sits inside a ```json fence.
//  3. A valid decision object spans the first '{' and the last '}'.
//
// A nil return means no strategy succeeded. That is a normal outcome the
// caller must handle, not an error.
func Extract(raw string) *domain.Decision {
	if d := parseStrict(raw); d != nil {
		return d
	}
	if inner, ok := fencedBlock(raw); ok {
		if d := parseStrict(inner); d != nil {
			return d
		}
	}
	if span, ok := braceSpan(raw); ok {
		if d := parseStrict(span); d != nil {
			return d
		}
	}
	return nil
}

// parseStrict decodes s as a Decision. Unknown fields and trailing content
// beyond the first JSON value both fail the parse, so nonconforming shapes
// never reach the orchestrator.
func parseStrict(s string) *domain.Decision {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()

	var d domain.Decision
	if err := dec.Decode(&d); err != nil {
		return nil
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil
	}
	return &d
}

// fencedBlock returns the text strictly between the first opening fence and
// the next closing fence. Bounds are checked; a missing marker reports no
// match rather than slicing at a fixed offset.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, fenceOpen)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(fenceOpen):]
	end := strings.Index(rest, fenceClose)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceSpan returns the substring from the first '{' to the last '}'
// inclusive, discarding surrounding prose.
func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
