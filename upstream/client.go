// Package upstream sends composed chat requests to an OpenAI-compatible
// completions endpoint and reduces the response envelope to a reply string.
//
// Each call makes exactly one attempt. There is no retry, backoff or circuit
// breaking: failures are classified and returned to the caller.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/teilomillet/ainu/config"
	"github.com/teilomillet/ainu/errors"
	"github.com/teilomillet/ainu/prompt"
)

const (
	// maxEnvelopeBytes bounds how much of a 2xx response is read.
	maxEnvelopeBytes = 8 << 20
	// maxErrorExcerpt bounds how much of a rejected response is kept for logs.
	maxErrorExcerpt = 2 << 10

	redacted = "[REDACTED]"
)

// Config holds the client settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// HTTPClient is optional. Its Timeout is replaced by Timeout when unset.
	HTTPClient *http.Client
}

// ConfigFrom converts the upstream section of the server configuration.
func ConfigFrom(cfg config.UpstreamConfig) Config {
	return Config{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}
}

// Client calls the upstream chat completions endpoint. It is safe for
// concurrent use.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client

	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewClient creates a client. When registry is non-nil the client's metrics
// are registered on it.
func NewClient(cfg Config, registry *prometheus.Registry) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("upstream api key is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("upstream timeout must be positive")
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		if cp.Timeout == 0 {
			cp.Timeout = cfg.Timeout
		}
		httpClient = &cp
	}

	c := &Client{
		url:        url,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ainu_upstream_requests_total",
			Help: "Upstream chat completion calls by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ainu_upstream_request_duration_seconds",
			Help:    "Latency of upstream chat completion calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}),
	}
	if registry != nil {
		registry.MustRegister(c.requests, c.latency)
	}
	return c, nil
}

// Complete sends req and returns choices[0].message.content. Errors are
// *errors.ChatError values of kind UpstreamNetworkFailure, UpstreamRejected
// or UpstreamMalformedEnvelope.
func (c *Client) Complete(ctx context.Context, req prompt.ChatRequest) (string, error) {
	start := time.Now()
	reply, err := c.complete(ctx, req)
	c.latency.Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = string(errors.KindOf(err))
	}
	c.requests.WithLabelValues(outcome).Inc()

	return reply, err
}

func (c *Client) complete(ctx context.Context, req prompt.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.NewInternalError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.NewNetworkError(c.scrub(err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorExcerpt))
		return "", errors.NewRejectedError(httpResp.StatusCode, c.redact(string(excerpt)))
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxEnvelopeBytes))
	if err != nil {
		return "", errors.NewNetworkError(fmt.Errorf("read response: %w", c.scrub(err)))
	}
	return extractReply(raw)
}

// chatResponse holds only the consumed part of the provider envelope.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func extractReply(raw []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.NewMalformedEnvelopeError("response is not valid JSON", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewMalformedEnvelopeError("response has no choices", nil)
	}
	content := resp.Choices[0].Message.Content
	if content == nil {
		return "", errors.NewMalformedEnvelopeError("choices[0].message.content is missing", nil)
	}
	return *content, nil
}

func (c *Client) redact(s string) string {
	return strings.ReplaceAll(s, c.apiKey, redacted)
}

// scrub keeps transport errors (which may quote the request) free of the key.
func (c *Client) scrub(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, c.apiKey) {
		return err
	}
	return errors.New(c.redact(msg))
}
