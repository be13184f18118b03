package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/infra"
)

// ErrMissingToken indicates that the client was configured without credentials.
var ErrMissingToken = fmt.Errorf("%w: Missing REPLICATE_API_TOKEN", domain.ErrMissingConfig)

// Invoker runs one model prediction and returns its raw output.
type Invoker interface {
	Invoke(ctx context.Context, model string, input map[string]any) (json.RawMessage, error)
}

// TokenSource supplies the API token per call so a rotated token applies
// without rebuilding the client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

// Options configures the Replicate predictions client. Tokens, when set,
// takes precedence over APIToken.
type Options struct {
	APIToken     string
	Tokens       TokenSource
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	// WaitSeconds is sent as the Prefer: wait hint; the API caps it at 60.
	WaitSeconds    int
	RequestTimeout time.Duration
}

// Client calls the Replicate HTTP API. It never retries a failed prediction;
// retry policy belongs to callers.
type Client struct {
	tokens       TokenSource
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	waitSeconds  int
}

// Error is a failed call or prediction. Message carries the upstream text so
// callers can classify it.
type Error struct {
	StatusCode   int
	PredictionID string
	Message      string
}

func (e *Error) Error() string {
	if e.StatusCode >= 300 {
		return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Message)
	}
	return "replicate: " + e.Message
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	wait := opts.WaitSeconds
	if wait <= 0 || wait > 60 {
		wait = 60
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = staticToken(strings.TrimSpace(opts.APIToken))
	}
	return &Client{
		tokens:       tokens,
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: poll,
		waitSeconds:  wait,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	token, err := c.token(ctx)
	return err == nil && token != ""
}

func (c *Client) token(ctx context.Context) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("replicate: load token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

// Invoke creates a prediction for model and blocks until it settles or ctx ends.
// model is either "owner/name" or "owner/name:version".
func (c *Client) Invoke(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	endpoint, payload, err := c.createRequest(model, input)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("wait=%d", c.waitSeconds))

	started := time.Now()
	pred, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	for !terminal(pred.Status) {
		if err := c.sleep(ctx); err != nil {
			return nil, err
		}
		pred, err = c.get(ctx, pred, token)
		if err != nil {
			return nil, err
		}
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", pred.ID).
		Str("status", pred.Status).
		Dur("took", time.Since(started)).
		Msg("replicate: prediction settled")

	if pred.Status != "succeeded" {
		msg := predictionError(pred)
		return nil, &Error{PredictionID: pred.ID, Message: msg}
	}
	return pred.Output, nil
}

// Download fetches a model artifact such as a generated audio file.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("replicate: invalid artifact url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &Error{StatusCode: resp.StatusCode, Message: "artifact download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read artifact: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) createRequest(model string, input map[string]any) (string, map[string]any, error) {
	model = strings.TrimSpace(model)
	name, version, _ := strings.Cut(model, ":")
	owner, modelName, ok := strings.Cut(name, "/")
	if !ok || owner == "" || modelName == "" || strings.Contains(modelName, "/") {
		return "", nil, fmt.Errorf("replicate: invalid model identifier %q", model)
	}
	if input == nil {
		input = map[string]any{}
	}
	if version == "" || version == "latest" {
		endpoint := fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, url.PathEscape(owner), url.PathEscape(modelName))
		return endpoint, map[string]any{"input": input}, nil
	}
	return c.baseURL + "/predictions", map[string]any{"version": version, "input": input}, nil
}

func (c *Client) get(ctx context.Context, pred *prediction, token string) (*prediction, error) {
	endpoint := pred.URLs.Get
	if endpoint == "" {
		endpoint = c.baseURL + "/predictions/" + url.PathEscape(pred.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build poll request: %w", err)
	}
	return c.do(req, token)
}

func (c *Client) do(req *http.Request, token string) (*prediction, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}
	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("replicate: decode response: %w", err)
	}
	if pred.ID == "" && !terminal(pred.Status) {
		return nil, errors.New("replicate: response carries no prediction id")
	}
	return &pred, nil
}

func (c *Client) sleep(ctx context.Context) error {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func terminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func predictionError(pred *prediction) string {
	var msg string
	if len(pred.Error) > 0 && string(pred.Error) != "null" {
		if err := json.Unmarshal(pred.Error, &msg); err != nil {
			msg = string(pred.Error)
		}
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "prediction " + pred.Status
	}
	return msg
}

func errorMessage(status int, raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if d := strings.TrimSpace(detail.Detail); d != "" {
			return d
		}
		if t := strings.TrimSpace(detail.Title); t != "" {
			return t
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

var _ Invoker = (*Client)(nil)
