package modelgen

import (
	"errors"
	"strings"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("modelgen: no JSON object in reply")

// ExtractJSON returns the JSON object embedded in an LLM reply. It accepts a
// bare object, an object inside a ``` or ```json fence, or an object
// surrounded by prose; in the last case the outermost braces win.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)

	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}
