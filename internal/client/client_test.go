package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/reflect", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["tone"] != "roast" || body["intensity"] != float64(2) {
			t.Errorf("reflect body = %v", body)
		}
		_, _ = w.Write([]byte(`{"message":"Bold choice.","mood":"neutral"}`))
	})
	mux.HandleFunc("/reaction-video", func(w http.ResponseWriter, r *http.Request) {
		var body ReactionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Line == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid input: imageBase64 and line required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"jobId":"job-1"}`))
	})
	mux.HandleFunc("/job-status", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("jobId") {
		case "job-1":
			_, _ = w.Write([]byte(`{"jobId":"job-1","status":"succeeded","videoUrl":"https://cdn/v.mp4"}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"failed to load job"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":"not_found"}`))
		}
	})
	mux.HandleFunc("/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"audioContent": base64.StdEncoding.EncodeToString([]byte("ID3"))})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{BaseURL: srv.URL + "/", Logger: zerolog.Nop()})
	ctx := context.Background()

	refl, err := c.Reflect(ctx, "data:image/png;base64,AAAA", "roast", 2)
	if err != nil || refl.Message != "Bold choice." || refl.Mood != "neutral" {
		t.Fatalf("Reflect = %+v, %v", refl, err)
	}

	id, err := c.StartReaction(ctx, ReactionRequest{ImageBase64: "data:image/png;base64,AAAA", Line: "hi"})
	if err != nil || id != "job-1" {
		t.Fatalf("StartReaction = %q, %v", id, err)
	}

	st, err := c.JobStatus(ctx, id)
	if err != nil || st.Status != StatusSucceeded || st.VideoURL != "https://cdn/v.mp4" {
		t.Fatalf("JobStatus = %+v, %v", st, err)
	}

	audio, err := c.Speak(ctx, "hello", "")
	if err != nil || string(audio) != "ID3" {
		t.Fatalf("Speak = %q, %v", audio, err)
	}
}

func TestClientErrors(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{BaseURL: srv.URL, Logger: zerolog.Nop()})
	ctx := context.Background()

	_, err := c.StartReaction(ctx, ReactionRequest{ImageBase64: "data:image/png;base64,AAAA"})
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid input: imageBase64 and line required" {
		t.Fatalf("StartReaction err = %v", err)
	}

	st, err := c.JobStatus(ctx, "unknown-id")
	if err != nil || st.Status != StatusNotFound {
		t.Fatalf("unknown job = %+v, %v", st, err)
	}

	if _, err := c.JobStatus(ctx, "boom"); err == nil {
		t.Fatalf("expected error for 500")
	}
}
