// Command mock-upstream runs a deterministic stand-in for the upstream
// chat service. It speaks the same completions wire format, enforces a
// bearer token so the gateway's credential handling can be exercised
// locally, and produces predictable responses.
//
// Configuration:
//
//	MOCK_PORT  - Listen port (default: 9090)
//	MOCK_TOKEN - Accepted bearer token (default: any non-empty token)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	token := os.Getenv("MOCK_TOKEN")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", requireToken(token, handleChatCompletions))
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock upstream starting", "port", port, "token_enforced", token != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock upstream failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock upstream shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// requireToken rejects requests without an acceptable bearer token, the way
// the real upstream rejects a stale session credential.
func requireToken(want string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || (want != "" && got != want) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid or expired session token","type":"auth_error"}}`))
			return
		}
		next(w, r)
	}
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream bool `json:"stream"`
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request","type":"invalid_request_error"}}`, http.StatusBadRequest)
		return
	}

	model := req.Model
	if model == "" {
		model = "qwen3-max-latest"
	}

	if req.Stream {
		handleStreaming(w, model, responseTokens(&req))
		return
	}

	text := strings.Join(responseTokens(&req), "")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-mockupstream",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15,
		},
	})
}

// responseTokens picks the deterministic reply for the last user message.
func responseTokens(req *chatRequest) []string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		lower := strings.ToLower(req.Messages[i].Content)
		if strings.Contains(lower, "count from 1 to 5") {
			return []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
		}
		break
	}
	return []string{"Hello", " from", " the", " mock", " upstream", "!"}
}

func handleStreaming(w http.ResponseWriter, model string, tokens []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeChunk(w, model, "", true)
	flusher.Flush()

	for _, token := range tokens {
		writeChunk(w, model, token, false)
		flusher.Flush()
	}

	finishData, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-mockupstream", "object": "chat.completion.chunk", "model": model,
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

func writeChunk(w http.ResponseWriter, model, content string, isRole bool) {
	delta := map[string]any{}
	if isRole {
		delta["role"] = "assistant"
	}
	if content != "" {
		delta["content"] = content
	}

	data, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-mockupstream", "object": "chat.completion.chunk", "model": model,
		"choices": []map[string]any{
			{"index": 0, "delta": delta, "finish_reason": nil},
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "qwen3-max-latest", "object": "model", "owned_by": "qwen"},
			{"id": "qwen3-coder-plus", "object": "model", "owned_by": "qwen"},
		},
	})
}
