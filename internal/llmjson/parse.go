// Package llmjson parses JSON objects out of free-form model output. It tries
// a strict decode first and falls back to a permissive repair pass for the
// usual model mistakes: code fences, trailing commentary, trailing commas,
// unterminated strings and unclosed brackets.
package llmjson

import (
	"encoding/json"
	"strings"
)

// Outcome records which parser stage produced the result.
type Outcome string

const (
	OutcomeStrict   Outcome = "strict"
	OutcomeRepaired Outcome = "repaired"
	OutcomeFailed   Outcome = "failed"
)

// ParseObject extracts a JSON object from raw model output. The map is nil
// when the outcome is OutcomeFailed, including when the payload parses but is
// not an object. Input that is already valid JSON is returned as is, even
// when its strings contain code fences.
func ParseObject(raw string) (map[string]any, Outcome) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, OutcomeFailed
	}
	if obj, parsed := strictObject(s); parsed {
		return obj, outcomeOf(obj, OutcomeStrict)
	}

	body := StripFences(s)
	if body == "" {
		return nil, OutcomeFailed
	}
	if body != s {
		if obj, parsed := strictObject(body); parsed {
			return obj, outcomeOf(obj, OutcomeStrict)
		}
	}

	fixed, ok := Repair(body)
	if !ok {
		return nil, OutcomeFailed
	}
	obj, parsed := strictObject(fixed)
	if !parsed {
		return nil, OutcomeFailed
	}
	return obj, outcomeOf(obj, OutcomeRepaired)
}

// strictObject decodes s. parsed reports whether s is valid JSON at all; obj
// is nil when it is valid but not an object.
func strictObject(s string) (obj map[string]any, parsed bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	obj, _ = v.(map[string]any)
	return obj, true
}

func outcomeOf(obj map[string]any, ok Outcome) Outcome {
	if obj == nil {
		return OutcomeFailed
	}
	return ok
}

// Decode parses raw into dst by round-tripping the extracted object. It
// returns OutcomeFailed without touching dst when no object is found or the
// object does not fit dst.
func Decode(raw string, dst any) Outcome {
	obj, outcome := ParseObject(raw)
	if outcome == OutcomeFailed {
		return outcome
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return OutcomeFailed
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return OutcomeFailed
	}
	return outcome
}

// StripFences removes a surrounding Markdown code fence (```json ... ```),
// tolerating prose before the opening fence and after the closing one. A fence
// that only appears after the first '{' belongs to the payload and is kept.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	if brace := strings.IndexByte(s, '{'); brace >= 0 && brace < start {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		lang := strings.TrimSpace(body[:nl])
		if lang == "" || isLangTag(lang) {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
