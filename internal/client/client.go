package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Job status values as reported by the backend.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// Options configures the mirror backend client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the mirror HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mirror api: status %d: %s", e.StatusCode, e.Message)
}

type Reflection struct {
	Message string `json:"message"`
	Mood    string `json:"mood"`
	Error   string `json:"error,omitempty"`
}

type ReactionRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Line        string `json:"line"`
	Mood        string `json:"mood"`
	Mode        string `json:"mode"`
	SessionID   string `json:"sessionId,omitempty"`
}

type JobStatus struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	VideoURL string `json:"videoUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &Client{baseURL: base, httpClient: httpClient, logger: opts.Logger}
}

// Reflect asks for a caption line about the frame. image is a data URI.
func (c *Client) Reflect(ctx context.Context, image, tone string, intensity int) (Reflection, error) {
	var out Reflection
	err := c.do(ctx, http.MethodPost, "/reflect", map[string]any{
		"imageBase64": image,
		"tone":        tone,
		"intensity":   intensity,
	}, &out)
	return out, err
}

// StartReaction queues a reaction video and returns its job id.
func (c *Client) StartReaction(ctx context.Context, req ReactionRequest) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/reaction-video", req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("mirror api: reaction-video returned no jobId")
	}
	return out.JobID, nil
}

// JobStatus reads one job. An unknown id is not an error; it comes back with
// Status set to StatusNotFound.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/job-status?jobId="+url.QueryEscape(jobID), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return JobStatus{JobID: jobID, Status: StatusNotFound}, nil
	}
	return out, err
}

// Speak synthesizes text and returns the decoded audio bytes.
func (c *Client) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	var out struct {
		AudioContent string `json:"audioContent"`
	}
	body := map[string]string{"text": text}
	if voice != "" {
		body["voice"] = voice
	}
	if err := c.do(ctx, http.MethodPost, "/text-to-speech", body, &out); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("mirror api: decode audio: %w", err)
	}
	return audio, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mirror api: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mirror api: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("mirror api error")
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mirror api: decode response: %w", err)
	}
	return nil
}
