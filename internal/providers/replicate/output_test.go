package replicate

import (
	"encoding/json"
	"errors"
	"testing"

	"mirror/internal/domain"
)

func TestDecodeURLShapes(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		url   string
		shape Shape
	}{
		{name: "plain string", raw: `"https://cdn.test/v.mp4"`, url: "https://cdn.test/v.mp4", shape: ShapeString},
		{name: "array", raw: `["https://cdn.test/a.mp4","https://cdn.test/b.mp4"]`, url: "https://cdn.test/a.mp4", shape: ShapeArrayFirst},
		{name: "nested output array", raw: `{"output":["https://cdn.test/n.mp4"]}`, url: "https://cdn.test/n.mp4", shape: ShapeNestedField},
		{name: "nested video", raw: `{"meta":1,"video":"https://cdn.test/v2.mp4"}`, url: "https://cdn.test/v2.mp4", shape: ShapeNestedField},
		{name: "deeply nested", raw: `{"output":{"audio":{"url":"https://cdn.test/a.mp3"}}}`, url: "https://cdn.test/a.mp3", shape: ShapeNestedField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, shape, err := DecodeURL(json.RawMessage(tc.raw))
			if err != nil {
				t.Fatalf("DecodeURL: %v", err)
			}
			if u != tc.url || shape != tc.shape {
				t.Fatalf("got (%q, %s), want (%q, %s)", u, shape, tc.url, tc.shape)
			}
		})
	}
}

func TestDecodeURLFailsLoudly(t *testing.T) {
	for _, raw := range []string{``, `null`, `42`, `[]`, `[7]`, `""`, `"not a url"`, `{"other":"https://x.test/a"}`, `{"output":null}`} {
		if _, _, err := DecodeURL(json.RawMessage(raw)); !errors.Is(err, domain.ErrNoResultURL) {
			t.Fatalf("DecodeURL(%s) err = %v, want ErrNoResultURL", raw, err)
		}
	}
}

func TestDecodeText(t *testing.T) {
	cases := map[string]string{
		`"hello there"`:              "hello there",
		`["You", " look", " sharp"]`: "You look sharp",
		`null`:                       "",
	}
	for raw, want := range cases {
		got, err := DecodeText(json.RawMessage(raw))
		if err != nil || got != want {
			t.Fatalf("DecodeText(%s) = %q, %v", raw, got, err)
		}
	}
	if _, err := DecodeText(json.RawMessage(`{"a":1}`)); err == nil {
		t.Fatalf("object accepted as text")
	}
}
