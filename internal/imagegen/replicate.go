package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowforge/internal/resilience"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/pkg/schema"
)

const (
	defaultBaseURL         = "https://api.replicate.com/v1"
	defaultModel           = "black-forest-labs/flux-schnell"
	defaultTimeout         = 60 * time.Second
	defaultMaxResponseBody = 1 << 20
)

// Config configures the Replicate client.
type Config struct {
	BaseURL         string
	Model           string
	APIToken        string
	Timeout         time.Duration
	MaxResponseBody int64
	Retry           resilience.RetryPolicy
	Breaker         resilience.BreakerConfig
}

// Option configures a ReplicateClient.
type Option func(*ReplicateClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *ReplicateClient) { r.http = c }
}

// WithTokenResolver looks the API token up in a vault when Config.APIToken
// is empty.
func WithTokenResolver(v secrets.Resolver) Option {
	return func(r *ReplicateClient) { r.tokens = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *ReplicateClient) { r.logger = l }
}

// ReplicateClient generates images with a Replicate-hosted model using the
// synchronous predictions API.
type ReplicateClient struct {
	cfg      Config
	http     *http.Client
	tokens   secrets.Resolver
	breakers *resilience.Breakers
	logger   *slog.Logger
}

// NewReplicateClient creates a client, filling unset config with defaults.
func NewReplicateClient(cfg Config, opts ...Option) *ReplicateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryPolicy()
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker = resilience.DefaultBreakerConfig()
	}

	c := &ReplicateClient{
		cfg:      cfg,
		breakers: resilience.NewBreakers(cfg.Breaker),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

// predictionInput is the flux-schnell input block.
type predictionInput struct {
	Prompt            string `json:"prompt"`
	GoFast            bool   `json:"go_fast"`
	NumOutputs        int    `json:"num_outputs"`
	AspectRatio       string `json:"aspect_ratio"`
	OutputFormat      string `json:"output_format"`
	OutputQuality     int    `json:"output_quality"`
	NumInferenceSteps int    `json:"num_inference_steps"`
}

type predictionResponse struct {
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

// Generate requests images for req. Transient failures (network errors,
// 429 and 5xx responses) are retried per the configured policy behind a
// circuit breaker; an API-reported error is returned as *APIError.
func (c *ReplicateClient) Generate(ctx context.Context, req Request) (*Response, error) {
	req = req.WithDefaults()
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "image prompt is empty")
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.breakers.Allow(c.cfg.Model); err != nil {
		return nil, err
	}

	var resp *Response
	err = resilience.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		r, err := c.predict(ctx, token, req)
		if err != nil {
			if resilience.IsRetryableError(err) {
				c.logger.WarnContext(ctx, "image generation attempt failed", "model", c.cfg.Model, "error", err)
			}
			return err
		}
		resp = r
		return nil
	})

	var apiErr *APIError
	switch {
	case err == nil:
		c.breakers.Succeeded(c.cfg.Model)
	case errors.As(err, &apiErr), errors.Is(err, context.Canceled):
		// The upstream answered; a rejected prompt says nothing about its health.
	default:
		c.breakers.Failed(c.cfg.Model)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ReplicateClient) token(ctx context.Context) (string, error) {
	if c.cfg.APIToken != "" {
		return c.cfg.APIToken, nil
	}
	if c.tokens != nil {
		v, err := c.tokens.Resolve(ctx, secrets.ImageAPITokenKey)
		if err == nil && len(v) > 0 {
			return string(v), nil
		}
	}
	return "", schema.NewError(schema.ErrCodeValidation, "image API token is not configured")
}

func (c *ReplicateClient) predict(ctx context.Context, token string, req Request) (*Response, error) {
	body, err := json.Marshal(map[string]any{"input": predictionInput{
		Prompt:            req.Prompt,
		GoFast:            true,
		NumOutputs:        req.NumOutputs,
		AspectRatio:       req.AspectRatio,
		OutputFormat:      "webp",
		OutputQuality:     80,
		NumInferenceSteps: 4,
	}})
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.cfg.BaseURL, c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "wait")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "read prediction response: %s", err.Error()).WithCause(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		text := strings.TrimSpace(string(raw))
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
				"API request failed with status %d: %s", httpResp.StatusCode, text).
				WithDetails(map[string]any{"status": httpResp.StatusCode})
		}
		return nil, &APIError{Status: httpResp.StatusCode, Message: text}
	}

	var pr predictionResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, &APIError{Message: "Unexpected response format from API"}
	}
	if pr.Error != nil && *pr.Error != "" {
		return nil, &APIError{Message: *pr.Error}
	}

	urls, ok := decodeOutput(pr.Output)
	if !ok {
		return nil, &APIError{Message: "Unexpected response format from API"}
	}
	return &Response{Output: urls}, nil
}

// decodeOutput accepts the list form and the single-URL form of output.
func decodeOutput(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, len(list) > 0
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}, true
	}
	return nil, false
}

var _ Generator = (*ReplicateClient)(nil)
