// Package integration provides end-to-end tests for the qwengate API.
//
// Tests run against a real gateway HTTP server backed by a mock upstream,
// both started in-process using net/http/httptest. The mock upstream
// enforces a bearer token, so credential acquisition, rotation, and the
// refresh-and-retry path are exercised over real HTTP.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qwengate/qwengate/pkg/credential"
	"github.com/qwengate/qwengate/pkg/gateway"
	"github.com/qwengate/qwengate/pkg/models"
	"github.com/qwengate/qwengate/pkg/upstream"
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the gateway server and mock upstream for testing.
type TestEnvironment struct {
	GatewayServer *httptest.Server
	MockUpstream  *httptest.Server

	// acceptedToken is the session token the mock upstream currently
	// accepts; rotating it simulates upstream session expiry.
	acceptedToken atomic.Value

	// acquisitions counts credential acquisitions performed by the gateway.
	acquisitions atomic.Int32

	store *credential.Store
}

// TestMain starts the mock upstream and gateway server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

func setupTestEnvironment() *TestEnvironment {
	env := &TestEnvironment{}
	env.acceptedToken.Store("integration-session-token-1")

	env.MockUpstream = httptest.NewServer(env.upstreamHandler())

	// The acquirer plays the role of the browser login: it always returns
	// whatever token the upstream currently accepts.
	store := credential.NewStore("", 10)
	env.store = store
	refresher := credential.NewRefresher(store, env, time.Minute, nil)

	client := upstream.NewClient(
		env.MockUpstream.URL,
		func() string {
			if cred := store.Get(); cred != nil {
				return cred.Token
			}
			return ""
		},
		10*time.Second,
		upstream.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		nil,
	)

	gw := gateway.New(store, refresher, models.NewResolver(models.DefaultModel), client, gateway.DefaultConfig(), nil)
	env.GatewayServer = httptest.NewServer(gw.Handler())
	return env
}

// Acquire implements credential.Acquirer.
func (env *TestEnvironment) Acquire(ctx context.Context) (*credential.Credential, error) {
	env.acquisitions.Add(1)
	cred := credential.New(env.acceptedToken.Load().(string), credential.SourceExtracted)
	return &cred, nil
}

// RotateSession changes the token the upstream accepts, invalidating
// whatever credential the gateway currently holds.
func (env *TestEnvironment) RotateSession(newToken string) {
	env.acceptedToken.Store(newToken)
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.GatewayServer != nil {
		env.GatewayServer.Close()
	}
	if env.MockUpstream != nil {
		env.MockUpstream.Close()
	}
}

// BaseURL returns the gateway server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.GatewayServer.URL
}

// --- Mock upstream ---

// upstreamHandler mimics the upstream completions endpoint: bearer-token
// enforcement, deterministic replies, trigger phrases for failure modes.
func (env *TestEnvironment) upstreamHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != env.acceptedToken.Load().(string) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid or expired session token","type":"auth_error"}}`))
			return
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
			return
		}

		lastUser := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				lastUser = strings.ToLower(req.Messages[i].Content)
				break
			}
		}

		switch {
		case strings.Contains(lastUser, "trigger-bad-request"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"prompt exceeds the context window","type":"invalid_request_error"}}`))
			return
		case strings.Contains(lastUser, "trigger-server-error"):
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		tokens := []string{"Hello", " from", " upstream", "!"}
		if strings.Contains(lastUser, "count from 1 to 5") {
			tokens = []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
		}

		if req.Stream {
			writeUpstreamStream(w, req.Model, tokens)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-upstream", "object": "chat.completion", "model": req.Model,
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": strings.Join(tokens, "")},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens": 10, "completion_tokens": len(tokens), "total_tokens": 10 + len(tokens),
			},
		})
	})
	return mux
}

func writeUpstreamStream(w http.ResponseWriter, model string, tokens []string) {
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	writeUpstreamChunk(w, model, "", true)
	flusher.Flush()

	for _, token := range tokens {
		writeUpstreamChunk(w, model, token, false)
		flusher.Flush()
	}

	finishData, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-upstream", "object": "chat.completion.chunk", "model": model,
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": len(tokens), "total_tokens": 10 + len(tokens),
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", finishData)
	flusher.Flush()

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeUpstreamChunk(w http.ResponseWriter, model, content string, isRole bool) {
	delta := map[string]any{}
	if isRole {
		delta["role"] = "assistant"
	}
	if content != "" {
		delta["content"] = content
	}
	data, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-upstream", "object": "chat.completion.chunk", "model": model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": nil},
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// --- HTTP helpers ---

// postJSON sends a POST request with JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// chatBody builds a minimal completions request body.
func chatBody(model, content string, stream bool) map[string]any {
	return map[string]any{
		"model":    model,
		"messages": []map[string]any{{"role": "user", "content": content}},
		"stream":   stream,
	}
}
