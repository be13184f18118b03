package replicate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mirror/internal/domain"
)

// Shape names the output layout a result URL was found in.
type Shape string

const (
	ShapeString      Shape = "string"
	ShapeArrayFirst  Shape = "array-first-string"
	ShapeNestedField Shape = "nested-field"
)

// nestedKeys are the object fields searched, in order, for a nested result.
var nestedKeys = []string{"output", "url", "video", "audio"}

const maxNestingDepth = 4

type urlStrategy struct {
	shape  Shape
	decode func(raw json.RawMessage, depth int) (string, bool)
}

// Strategies run in declaration order; the first match wins.
var urlStrategies = []urlStrategy{
	{shape: ShapeString, decode: decodeString},
	{shape: ShapeArrayFirst, decode: decodeArrayFirst},
	{shape: ShapeNestedField, decode: decodeNested},
}

// DecodeURL extracts a result URL from a model output. It fails with
// domain.ErrNoResultURL when no known shape matches.
func DecodeURL(raw json.RawMessage) (string, Shape, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", "", fmt.Errorf("%w: empty output", domain.ErrNoResultURL)
	}
	for _, s := range urlStrategies {
		if u, ok := s.decode(raw, 0); ok {
			return u, s.shape, nil
		}
	}
	return "", "", fmt.Errorf("%w: unrecognized output %s", domain.ErrNoResultURL, preview(raw))
}

func decodeString(raw json.RawMessage, _ int) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return validURL(s)
}

func decodeArrayFirst(raw json.RawMessage, _ int) (string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return "", false
	}
	return decodeString(items[0], 0)
}

func decodeNested(raw json.RawMessage, depth int) (string, bool) {
	if depth >= maxNestingDepth {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	for _, key := range nestedKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if u, ok := decodeString(v, depth); ok {
			return u, true
		}
		if u, ok := decodeArrayFirst(v, depth); ok {
			return u, true
		}
		if u, ok := decodeNested(v, depth+1); ok {
			return u, true
		}
	}
	return "", false
}

func validURL(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "data:") {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return s, true
}

// DecodeText flattens a text model output. Streaming models return a token
// array whose pieces already carry their own spacing.
func DecodeText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, ""), nil
	}
	return "", fmt.Errorf("replicate: text output has unexpected shape %s", preview(raw))
}

func preview(raw []byte) string {
	const max = 120
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
