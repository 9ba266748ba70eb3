// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL points at the DeepSeek OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.deepseek.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "deepseek-chat"

	// DefaultMaxRetries is the total attempt budget for one call.
	DefaultMaxRetries = 3

	// transportRetryDelay is the flat backoff after a network failure.
	transportRetryDelay = 1 * time.Second

	// maxDetailBytes caps the upstream body carried in UpstreamError.
	maxDetailBytes = 512
)

// OpenAIConfig configures an OpenAI-compatible chat-completion client.
//
// # Fields
//
//   - BaseURL: API root including the version segment. Default: DefaultBaseURL.
//   - Model: Model identifier. Default: DefaultModel.
//   - APIKey: Bearer token. Required.
//   - DefaultTemperature: Used when params.Temperature is nil. Default: 0.7.
//   - DefaultMaxTokens: Used when params.MaxTokens is nil. Default: 2000.
//   - MaxRetries: Total attempts per call. Default: 3.
//   - Timeout: Per-attempt HTTP timeout. Default: 120s.
//   - RequestsPerSecond: Client-side pacing. Zero disables pacing.
//   - ExtraHeaders: Added to every request.
type OpenAIConfig struct {
	BaseURL            string
	Model              string
	APIKey             string
	DefaultTemperature float32
	DefaultMaxTokens   int
	MaxRetries         int
	Timeout            time.Duration
	RequestsPerSecond  float64
	ExtraHeaders       map[string]string
}

// CallObserver receives per-call telemetry. Implemented by the generator
// metrics; may be nil.
type CallObserver interface {
	ObserveUpstreamCall(outcome string)
	ObserveUpstreamRetry(reason string)
	ObserveTokens(usage Usage, model string)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes an OpenAIClient.
type Option func(*OpenAIClient)

// WithHTTPClient replaces the HTTP client. ExtraHeaders are not applied to
// a caller-supplied client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAIClient) { o.httpClient = c }
}

// WithSleeper replaces the backoff wait. Tests use it to record delays.
func WithSleeper(s Sleeper) Option {
	return func(o *OpenAIClient) { o.sleep = s }
}

// WithObserver attaches a telemetry observer.
func WithObserver(obs CallObserver) Option {
	return func(o *OpenAIClient) { o.observer = obs }
}

// OpenAIClient implements ChatClient against any OpenAI-compatible
// chat-completions endpoint (DeepSeek, OpenAI, vLLM, ...).
//
// # Description
//
// Each Chat call makes up to MaxRetries attempts. Failures are classified:
//
//   - HTTP 429: wait 2^attempt seconds, retry; exhausted -> ErrRateLimitExceeded
//   - transport failure: wait 1 second, retry; exhausted -> ErrUpstreamUnavailable
//   - any other failure: return *UpstreamError immediately
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIClient struct {
	client     *openai.Client
	httpClient *http.Client
	config     OpenAIConfig
	limiter    *rate.Limiter
	sleep      Sleeper
	observer   CallObserver
}

// NewOpenAIClient creates a client from cfg, applying defaults for zero
// values.
//
// # Outputs
//
//   - *OpenAIClient: Ready to use.
//   - error: Non-nil if APIKey is empty.
func NewOpenAIClient(cfg OpenAIConfig, opts ...Option) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	cfg = applyOpenAIDefaults(cfg)

	c := &OpenAIClient{
		config: cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &headerTransport{base: http.DefaultTransport, headers: cfg.ExtraHeaders},
		}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = c.httpClient
	c.client = openai.NewClientWithConfig(clientConfig)

	slog.Info("Initialized upstream LLM client",
		"base_url", clientConfig.BaseURL,
		"model", cfg.Model,
		"max_retries", cfg.MaxRetries,
		"extra_headers", len(cfg.ExtraHeaders),
	)
	return c, nil
}

func applyOpenAIDefaults(cfg OpenAIConfig) OpenAIConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.DefaultTemperature == 0 {
		cfg.DefaultTemperature = 0.7
	}
	if cfg.DefaultMaxTokens == 0 {
		cfg.DefaultMaxTokens = 2000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return cfg
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.config.Model }

// Chat implements ChatClient.
//
// # Inputs
//
//   - ctx: Bounds every attempt and every backoff wait.
//   - messages: Full conversation including the new user turn.
//   - params: Sampling overrides; nil fields use the configured defaults.
//
// # Outputs
//
//   - string: Trimmed assistant text.
//   - error: ErrRateLimitExceeded, ErrUpstreamUnavailable (both wrapped with
//     the last cause) or *UpstreamError.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	req := c.buildRequest(messages, params)
	maxRetries := c.config.MaxRetries

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			c.observeCall("unavailable")
			return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return c.handleResponse(resp, attempt)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observeCall("unavailable")
			return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctxErr)
		}

		lastAttempt := attempt == maxRetries-1
		switch classifyFailure(err) {
		case failureRateLimited:
			slog.Warn("Upstream rate limited",
				"attempt", attempt+1, "max_retries", maxRetries, "model", c.config.Model)
			if lastAttempt {
				c.observeCall("rate_limited")
				return "", fmt.Errorf("%w after %d attempts: %w", ErrRateLimitExceeded, maxRetries, err)
			}
			c.observeRetry("rate_limited")
			if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				c.observeCall("unavailable")
				return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
			}

		case failureTransport:
			slog.Warn("Upstream request failed at transport level",
				"attempt", attempt+1, "max_retries", maxRetries, "error", err)
			if lastAttempt {
				c.observeCall("unavailable")
				return "", fmt.Errorf("%w after %d attempts: %w", ErrUpstreamUnavailable, maxRetries, err)
			}
			c.observeRetry("transport")
			if err := c.sleep(ctx, transportRetryDelay); err != nil {
				c.observeCall("unavailable")
				return "", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
			}

		default:
			upErr := toUpstreamError(err)
			slog.Error("Upstream call failed",
				"status", upErr.StatusCode, "detail", upErr.Detail, "attempt", attempt+1)
			c.observeCall("error")
			return "", upErr
		}
	}

	// Unreachable: the loop returns on the last attempt.
	return "", fmt.Errorf("%w: retry budget is empty", ErrUpstreamUnavailable)
}

func (c *OpenAIClient) buildRequest(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    apiMessages,
		Temperature: c.config.DefaultTemperature,
		MaxTokens:   c.config.DefaultMaxTokens,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

func (c *OpenAIClient) handleResponse(resp openai.ChatCompletionResponse, attempt int) (string, error) {
	if len(resp.Choices) == 0 {
		c.observeCall("error")
		return "", &UpstreamError{StatusCode: http.StatusOK, Detail: "response contained no choices"}
	}
	if c.observer != nil {
		c.observer.ObserveTokens(Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}, c.config.Model)
	}
	c.observeCall("success")
	slog.Debug("Upstream call succeeded",
		"attempt", attempt+1,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) observeCall(outcome string) {
	if c.observer != nil {
		c.observer.ObserveUpstreamCall(outcome)
	}
}

func (c *OpenAIClient) observeRetry(reason string) {
	if c.observer != nil {
		c.observer.ObserveUpstreamRetry(reason)
	}
}

// =============================================================================
// Failure classification
// =============================================================================

type failureKind int

const (
	failureOther failureKind = iota
	failureRateLimited
	failureTransport
)

// classifyFailure maps a go-openai error onto the retry policy.
func classifyFailure(err error) failureKind {
	if status := statusCodeOf(err); status != 0 {
		if status == http.StatusTooManyRequests {
			return failureRateLimited
		}
		return failureOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return failureTransport
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return failureTransport
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return failureTransport
	}
	return failureOther
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func toUpstreamError(err error) *UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Detail: truncate(apiErr.Message, maxDetailBytes)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := string(reqErr.Body)
		if detail == "" && reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Detail: truncate(detail, maxDetailBytes)}
	}
	return &UpstreamError{Detail: truncate(err.Error(), maxDetailBytes)}
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// =============================================================================
// Helpers
// =============================================================================

// headerTransport adds fixed headers to every outbound request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ ChatClient = (*OpenAIClient)(nil)
