package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when model output cannot be read as JSON.
var ErrParseFailed = errors.New("failed to parse response")

var (
	reThink     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	reJSONFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
)

// CleanJSON strips <think> blocks and markdown fences and cuts the output
// down to the outermost JSON array or object.
func CleanJSON(raw string) string {
	s := reThink.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	if m := reJSONFence.FindStringSubmatch(s); len(m) >= 2 {
		s = strings.TrimSpace(m[1])
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// Parse unmarshals model output into T after CleanJSON.
func Parse[T any](content string) (T, error) {
	var result T
	cleaned := CleanJSON(content)
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	return result, nil
}
