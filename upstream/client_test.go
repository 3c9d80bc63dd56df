package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/ainu/errors"
	"github.com/teilomillet/ainu/prompt"
)

const testKey = "sk-secret-xyz"

var testPersona = prompt.Persona{
	SystemPreamble: "You are Ainu, a helpful AI assistant.",
	ModelID:        "llama-3.3-70b-versatile",
	MaxTokens:      1000,
}

func newTestClient(t *testing.T, url string, timeout time.Duration) (*Client, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	client, err := NewClient(Config{URL: url, APIKey: testKey, Timeout: timeout}, registry)
	require.NoError(t, err)
	return client, registry
}

func TestCompleteSuccess(t *testing.T) {
	var (
		gotAuth        string
		gotContentType string
		gotBody        prompt.ChatRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client, registry := newTestClient(t, server.URL, 5*time.Second)

	reply, err := client.Complete(context.Background(), prompt.Compose("hi", testPersona))
	require.NoError(t, err)

	assert.Equal(t, "hello there", reply)
	assert.Equal(t, "Bearer "+testKey, gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, prompt.Compose("hi", testPersona), gotBody)

	assert.Equal(t, float64(1), testutil.ToFloat64(client.requests.WithLabelValues("ok")))
	count, err := testutil.GatherAndCount(registry, "ainu_upstream_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCompleteEmptyContentIsAReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, 5*time.Second)
	reply, err := client.Complete(context.Background(), prompt.Compose("", testPersona))
	require.NoError(t, err)
	assert.Equal(t, "", reply)
}

func TestCompleteFirstChoiceWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"first"}},{"message":{"content":"second"}}]}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, 5*time.Second)
	reply, err := client.Complete(context.Background(), prompt.Compose("hi", testPersona))
	require.NoError(t, err)
	assert.Equal(t, "first", reply)
}

func TestCompleteFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   errors.Kind
		wantStatus int
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":"invalid_api_key"}`)
			},
			wantKind:   errors.UpstreamRejected,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "unknown model",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"error":{"message":"The model does not exist","code":"model_not_found"}}`)
			},
			wantKind:   errors.UpstreamRejected,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantKind:   errors.UpstreamRejected,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "provider outage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantKind:   errors.UpstreamRejected,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[]}`)
			},
			wantKind: errors.UpstreamMalformedEnvelope,
		},
		{
			name: "missing choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{}`)
			},
			wantKind: errors.UpstreamMalformedEnvelope,
		},
		{
			name: "missing content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant"}}]}`)
			},
			wantKind: errors.UpstreamMalformedEnvelope,
		},
		{
			name: "null content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[{"message":{"content":null}}]}`)
			},
			wantKind: errors.UpstreamMalformedEnvelope,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `<html>bad gateway</html>`)
			},
			wantKind: errors.UpstreamMalformedEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client, _ := newTestClient(t, server.URL, 5*time.Second)
			reply, err := client.Complete(context.Background(), prompt.Compose("hi", testPersona))

			require.Error(t, err)
			assert.Empty(t, reply)
			assert.Equal(t, tt.wantKind, errors.KindOf(err))

			var ce *errors.ChatError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantStatus, ce.StatusCode)
			assert.Equal(t, float64(1), testutil.ToFloat64(client.requests.WithLabelValues(string(tt.wantKind))))
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Complete(context.Background(), prompt.Compose("ping", testPersona))
	require.Error(t, err)
	assert.Equal(t, errors.UpstreamNetworkFailure, errors.KindOf(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCompleteCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, prompt.Compose("bye", testPersona))
	require.Error(t, err)
	assert.Equal(t, errors.UpstreamNetworkFailure, errors.KindOf(err))
}

func TestCompleteConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, _ := newTestClient(t, url, time.Second)
	_, err := client.Complete(context.Background(), prompt.Compose("hi", testPersona))
	require.Error(t, err)
	assert.Equal(t, errors.UpstreamNetworkFailure, errors.KindOf(err))
}

func TestRejectedBodyIsRedacted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"key `+testKey+` is invalid"}`+strings.Repeat("x", 10<<10))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, 5*time.Second)
	_, err := client.Complete(context.Background(), prompt.Compose("hi", testPersona))
	require.Error(t, err)

	var ce *errors.ChatError
	require.True(t, errors.As(err, &ce))
	body, _ := ce.Details["upstream_body"].(string)
	assert.NotContains(t, body, testKey)
	assert.Contains(t, body, redacted)
	assert.LessOrEqual(t, len(body), maxErrorExcerpt)
	assert.NotContains(t, err.Error(), testKey)
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{APIKey: testKey, Timeout: time.Second}},
		{"blank url", Config{URL: "  ", APIKey: testKey, Timeout: time.Second}},
		{"missing key", Config{URL: "http://localhost", Timeout: time.Second}},
		{"zero timeout", Config{URL: "http://localhost", APIKey: testKey}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg, nil)
			assert.Error(t, err)
			assert.Nil(t, client)
		})
	}
}

func TestNewClientKeepsCustomHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 3 * time.Second}
	client, err := NewClient(Config{URL: "http://localhost", APIKey: testKey, Timeout: time.Minute, HTTPClient: custom}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.httpClient.Timeout)

	client, err = NewClient(Config{URL: "http://localhost", APIKey: testKey, Timeout: time.Minute, HTTPClient: &http.Client{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, client.httpClient.Timeout)
}
