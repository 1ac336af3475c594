package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSONObject = errors.New("no json object in model output")

// ExtractJSON returns the JSON object embedded in model output. Markdown code
// fences are stripped, and when the remainder is not a bare object the
// outermost {...} span is taken.
func ExtractJSON(output string) (string, error) {
	text := stripCodeFence(strings.TrimSpace(output))
	if strings.HasPrefix(text, "{") {
		return text, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSONObject
	}
	return text[start : end+1], nil
}

// DecodeJSON extracts the JSON object from output and unmarshals it into v.
func DecodeJSON(output string, v any) error {
	raw, err := ExtractJSON(output)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
