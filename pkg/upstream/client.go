// Package upstream issues chat-completion calls against the upstream
// service's OpenAI-compatible endpoint, authenticated with the gateway's
// session credential.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/qwengate/qwengate/pkg/api"
	"github.com/qwengate/qwengate/pkg/observability"
)

// TokenSource returns the credential to attach to the next call. Supplied as
// a function so the client always observes the store's current value, even
// across a mid-flight refresh.
type TokenSource func() string

// Client performs HTTP requests against the upstream chat-completion
// endpoint. Transient failures (429, 5xx, network) are retried per the
// configured policy; authorization failures are returned immediately so the
// gateway can run its refresh-and-retry-once policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates an upstream client. timeout bounds a single non-streaming
// call; zero selects 60 seconds.
func NewClient(baseURL string, token TokenSource, timeout time.Duration, retry RetryPolicy, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		retry:      retry,
		logger:     logger,
	}
}

// Complete performs a non-streaming completion call.
func (c *Client) Complete(ctx context.Context, model string, messages []api.Message, params Params) (*Completion, error) {
	body, err := c.marshalRequest(model, messages, params, false)
	if err != nil {
		return nil, err
	}

	var completion *Completion
	operation := func() error {
		start := time.Now()
		resp, err := c.do(ctx, body, false)
		if err != nil {
			observability.UpstreamRequests.WithLabelValues("error").Inc()
			return &RetryableError{Message: err.Error(), Err: err}
		}
		defer resp.Body.Close()

		observability.UpstreamLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.UpstreamRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
			mapped := mapHTTPError(resp)
			if IsRetryable(mapped) {
				c.logger.Warn("retryable upstream failure",
					slog.Int("status", resp.StatusCode),
					slog.String("model", model))
				return mapped
			}
			return backoff.Permanent(mapped)
		}
		observability.UpstreamRequests.WithLabelValues("2xx").Inc()

		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return backoff.Permanent(fmt.Errorf("parsing upstream response: %w", err))
		}
		completion = translateResponse(&chatResp)
		return nil
	}

	if err := backoff.Retry(operation, c.retry.backOff(ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return completion, nil
}

// Stream performs a streaming completion call. The returned channel delivers
// translated events and is closed when the upstream stream ends, errors, or
// the context is cancelled. Pre-stream HTTP failures are returned directly
// (and retried per policy when transient), so an authorization rejection is
// always visible before any event is emitted.
//
// No client timeout applies to the streaming body: a stream can legitimately
// outlive any fixed bound. The context controls its lifetime instead.
func (c *Client) Stream(ctx context.Context, model string, messages []api.Message, params Params) (<-chan StreamEvent, error) {
	body, err := c.marshalRequest(model, messages, params, true)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	operation := func() error {
		r, err := c.do(ctx, body, true)
		if err != nil {
			observability.UpstreamRequests.WithLabelValues("error").Inc()
			return &RetryableError{Message: err.Error(), Err: err}
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			observability.UpstreamRequests.WithLabelValues(statusClass(r.StatusCode)).Inc()
			mapped := mapHTTPError(r)
			r.Body.Close()
			if IsRetryable(mapped) {
				return mapped
			}
			return backoff.Permanent(mapped)
		}
		observability.UpstreamRequests.WithLabelValues("2xx").Inc()
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, c.retry.backOff(ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}

	ch := make(chan StreamEvent, 1)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseSSE(ctx, resp.Body, ch, c.logger)
	}()
	return ch, nil
}

// marshalRequest builds the upstream request body.
func (c *Client) marshalRequest(model string, messages []api.Message, params Params, stream bool) ([]byte, error) {
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	body, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("marshaling upstream request: %w", err)
	}
	return body, nil
}

// do sends one HTTP request with the current credential attached.
func (c *Client) do(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	if stream {
		req.Header.Set("Accept", "text/event-stream")
		// Timeout-free client for streaming; context bounds the lifetime.
		streamClient := &http.Client{Transport: c.httpClient.Transport}
		return streamClient.Do(req)
	}
	return c.httpClient.Do(req)
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// translateResponse maps the upstream response shape onto a Completion.
func translateResponse(resp *chatResponse) *Completion {
	out := &Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: api.FinishReasonStop,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		if fr := resp.Choices[0].FinishReason; fr != "" {
			out.FinishReason = fr
		}
	}
	if resp.Usage != nil {
		out.Usage = &api.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

// unwrapPermanent strips the backoff.PermanentError wrapper so callers see
// the original error kind.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
