package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// ExtractObject returns the outermost JSON object embedded in text.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("no closing } found")
	}
	return text[start : end+1], nil
}

// ParseJSON decodes a model reply that may be fenced or wrapped in prose.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	obj, err := ExtractObject(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var out T
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Truncate(obj, 200))
	}
	return out, nil
}

// Truncate shortens s to at most n characters, marking the cut. It never
// splits a multi-byte character.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
