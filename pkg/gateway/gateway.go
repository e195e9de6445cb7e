// Package gateway is the HTTP-facing translation layer: it validates
// incoming chat-completion requests, resolves models, coordinates credential
// refresh, and relays upstream responses in the neutral wire format.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/qwengate/qwengate/pkg/api"
	"github.com/qwengate/qwengate/pkg/credential"
	"github.com/qwengate/qwengate/pkg/models"
	"github.com/qwengate/qwengate/pkg/upstream"
)

// UpstreamClient is the slice of the upstream client the gateway consumes.
type UpstreamClient interface {
	Complete(ctx context.Context, model string, messages []api.Message, params upstream.Params) (*upstream.Completion, error)
	Stream(ctx context.Context, model string, messages []api.Message, params upstream.Params) (<-chan upstream.StreamEvent, error)
}

// Config holds gateway behavior settings.
type Config struct {
	// RefreshMargin is how long before credential expiry a refresh is
	// triggered proactively.
	RefreshMargin time.Duration
	// MaxBodySize bounds the request body.
	MaxBodySize int64
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		RefreshMargin: 5 * time.Minute,
		MaxBodySize:   10 << 20, // 10 MB
	}
}

// Gateway serves the chat-completion API. Caller-supplied bearer keys are
// accepted syntactically but never used for authorization: the gateway
// always authenticates upstream with its own stored credential. This "any
// client key accepted" posture is deliberate; the gateway is meant to sit
// behind the operator's own perimeter.
type Gateway struct {
	store     *credential.Store
	refresher *credential.Refresher
	resolver  *models.Resolver
	client    UpstreamClient
	cfg       Config
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a Gateway and registers its routes.
func New(store *credential.Store, refresher *credential.Refresher, resolver *models.Resolver, client UpstreamClient, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = DefaultConfig().RefreshMargin
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		store:     store,
		refresher: refresher,
		resolver:  resolver,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	g.mux.HandleFunc("GET /health", g.handleHealth)
	g.mux.HandleFunc("GET /v1/models", g.handleModels)
	g.mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletions)
	g.mux.HandleFunc("GET /v1/validate", g.handleValidate)
	g.mux.HandleFunc("POST /v1/refresh", g.handleRefresh)

	return g
}

// Handler returns the http.Handler for the gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// handleHealth reports liveness. It never touches the upstream credential:
// a gateway with an expired session is still alive and will refresh on the
// next completion request.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleModels lists the canonical model set.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	list := api.ModelList{Object: api.ObjectList}
	for _, id := range g.resolver.Canonical() {
		list.Data = append(list.Data, api.Model{
			ID:      id,
			Object:  api.ObjectModel,
			OwnedBy: "qwen",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&list)
}

// handleChatCompletions is the core operation: validate, resolve the model,
// ensure a usable credential, call upstream, and translate the result.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			g.writeError(w, api.NewInvalidRequestError("content_type", "Content-Type must be application/json"), http.StatusUnsupportedMediaType)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxBodySize)

	var req api.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			g.writeError(w, api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", g.cfg.MaxBodySize)), http.StatusRequestEntityTooLarge)
			return
		}
		g.writeError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()), http.StatusBadRequest)
		return
	}

	if apiErr := api.ValidateChatRequest(&req); apiErr != nil {
		g.writeError(w, apiErr, http.StatusBadRequest)
		return
	}

	// Proactive refresh before touching the upstream. Concurrent requests
	// seeing an invalid credential all block on the same in-flight refresh.
	if err := g.ensureCredential(r.Context()); err != nil {
		apiErr, status := translateError(err)
		g.writeError(w, apiErr, status)
		return
	}

	model := g.resolver.Resolve(req.Model)
	params := upstream.Params{Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	if req.Stream {
		g.streamCompletion(w, r, model, req.Messages, params)
		return
	}
	g.completeOnce(w, r, model, req.Messages, params)
}

// handleValidate reports whether the stored credential is currently usable.
// It inspects the store only; it never triggers a refresh or an upstream
// call, so operators can poll it freely.
func (g *Gateway) handleValidate(w http.ResponseWriter, r *http.Request) {
	type validation struct {
		Valid     bool   `json:"valid"`
		Source    string `json:"source,omitempty"`
		ExpiresAt string `json:"expires_at,omitempty"`
	}

	v := validation{Valid: g.store.Valid(g.cfg.RefreshMargin)}
	if cred := g.store.Get(); cred != nil {
		v.Source = string(cred.Source)
		if !cred.ExpiresAt.IsZero() {
			v.ExpiresAt = cred.ExpiresAt.Format(time.RFC3339)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&v)
}

// handleRefresh forces a credential refresh regardless of the stored
// credential's validity. Concurrent calls join the same in-flight
// acquisition. Login detail is logged, never echoed.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := g.refresher.Refresh(r.Context()); err != nil {
		g.logger.Error("manual credential refresh failed", slog.String("error", err.Error()))
		g.writeError(w, api.NewAuthenticationError("credential refresh failed"), http.StatusBadGateway)
		return
	}

	resp := map[string]any{"status": "ok"}
	if cred := g.store.Get(); cred != nil {
		resp["source"] = string(cred.Source)
		if !cred.ExpiresAt.IsZero() {
			resp["expires_at"] = cred.ExpiresAt.Format(time.RFC3339)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ensureCredential blocks until the store holds a usable credential,
// triggering a de-duplicated refresh when it does not.
func (g *Gateway) ensureCredential(ctx context.Context) error {
	if g.store.Valid(g.cfg.RefreshMargin) {
		return nil
	}
	g.logger.Info("credential invalid or near expiry, refreshing")
	return g.refresher.Refresh(ctx)
}

// recoverAuthorization handles an upstream credential rejection: invalidate,
// refresh once, and report whether the original call may be retried. A second
// rejection is surfaced, not retried, to avoid unbounded refresh loops.
func (g *Gateway) recoverAuthorization(ctx context.Context, err error) bool {
	if !upstream.IsAuthorization(err) {
		return false
	}
	g.logger.Warn("upstream rejected credential, refreshing once", slog.String("error", err.Error()))
	g.store.Invalidate()
	if refreshErr := g.refresher.Refresh(ctx); refreshErr != nil {
		g.logger.Error("refresh after rejection failed", slog.String("error", refreshErr.Error()))
		return false
	}
	return true
}

// completeOnce handles the non-streaming path, retrying the identical
// request exactly once after a credential rejection. The caller never
// observes the intermediate failure.
func (g *Gateway) completeOnce(w http.ResponseWriter, r *http.Request, model string, messages []api.Message, params upstream.Params) {
	completion, err := g.client.Complete(r.Context(), model, messages, params)
	if err != nil && g.recoverAuthorization(r.Context(), err) {
		completion, err = g.client.Complete(r.Context(), model, messages, params)
	}
	if err != nil {
		apiErr, status := translateError(err)
		g.logger.Error("completion failed", slog.String("model", model), slog.String("error", err.Error()))
		g.writeError(w, apiErr, status)
		return
	}

	resp := toChatResponse(api.NewCompletionID(), model, completion, messages)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// streamCompletion handles the streaming path. Upstream status failures
// surface before any SSE bytes are written, so the refresh-and-retry-once
// policy applies to the stream open as well. Once streaming has begun, an
// interruption truncates the stream with a terminal error chunk and the
// sentinel rather than leaving it open.
func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, model string, messages []api.Message, params upstream.Params) {
	// The request context observes caller disconnection, aborting the
	// upstream read promptly for an abandoned client.
	ctx := r.Context()

	events, err := g.client.Stream(ctx, model, messages, params)
	if err != nil && g.recoverAuthorization(ctx, err) {
		events, err = g.client.Stream(ctx, model, messages, params)
	}
	if err != nil {
		apiErr, status := translateError(err)
		g.logger.Error("stream open failed", slog.String("model", model), slog.String("error", err.Error()))
		g.writeError(w, apiErr, status)
		return
	}

	id := api.NewCompletionID()
	cw := newChunkWriter(w)
	// Every exit path releases the streaming gauge, including disconnects
	// that never reach the sentinel.
	defer cw.close()

	// First chunk announces the assistant role.
	if err := cw.writeChunk(newChunk(id, model, api.Delta{Role: api.RoleAssistant}, nil)); err != nil {
		g.logger.Debug("client went away before stream start", slog.String("error", err.Error()))
		return
	}

	finished := false
	for event := range events {
		switch {
		case event.Err != nil:
			g.logger.Error("upstream stream interrupted", slog.String("model", model), slog.String("error", event.Err.Error()))
			apiErr, _ := translateError(event.Err)
			cw.writeError(apiErr)
			cw.writeDone()
			return

		case event.FinishReason != "":
			g.terminate(cw, id, model, event.FinishReason)
			finished = true

		case event.Delta != "":
			if err := cw.writeChunk(newChunk(id, model, api.Delta{Content: event.Delta}, nil)); err != nil {
				// Client disconnected; drop the upstream stream via ctx.
				g.logger.Debug("client disconnected mid-stream", slog.String("error", err.Error()))
				return
			}
		}
	}

	// Upstream closed without a finish reason: still terminate cleanly so
	// the caller never waits on an unterminated stream.
	if !finished {
		g.terminate(cw, id, model, api.FinishReasonStop)
	}
}

// terminate emits the terminal chunk and the [DONE] sentinel exactly once.
func (g *Gateway) terminate(cw *chunkWriter, id, model, finishReason string) {
	fr := finishReason
	if err := cw.writeChunk(newChunk(id, model, api.Delta{}, &fr)); err != nil {
		return
	}
	if err := cw.writeDone(); err != nil {
		g.logger.Debug("writing stream sentinel failed", slog.String("error", err.Error()))
	}
}

// writeError writes a JSON error body with the given status.
func (g *Gateway) writeError(w http.ResponseWriter, apiErr *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&api.ErrorResponse{Error: apiErr})
}
