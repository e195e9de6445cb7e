package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/qwengate/qwengate/pkg/api"
	"github.com/qwengate/qwengate/pkg/credential"
	"github.com/qwengate/qwengate/pkg/upstream"
)

// toChatResponse translates an upstream completion into the neutral wire
// format. The response carries the resolved canonical model, not the name
// the caller asked for.
func toChatResponse(id, model string, completion *upstream.Completion, messages []api.Message) *api.ChatResponse {
	usage := completion.Usage
	if usage == nil {
		usage = estimateUsage(messages, completion.Content)
	}
	finish := completion.FinishReason
	if finish == "" {
		finish = api.FinishReasonStop
	}
	return &api.ChatResponse{
		ID:      id,
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      api.Message{Role: api.RoleAssistant, Content: completion.Content},
			FinishReason: finish,
		}},
		Usage: *usage,
	}
}

// newChunk builds a content-delta chunk for the stream.
func newChunk(id, model string, delta api.Delta, finishReason *string) *api.ChunkResponse {
	return &api.ChunkResponse{
		ID:      id,
		Object:  api.ObjectChatCompletionChunk,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// estimateUsage approximates token counts when the upstream omits them,
// using the rough four-characters-per-token heuristic.
func estimateUsage(messages []api.Message, completion string) *api.Usage {
	prompt := 0
	for _, m := range messages {
		prompt += estimateTokens(m.Content)
	}
	out := estimateTokens(completion)
	return &api.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// translateError maps an internal error to the APIError and HTTP status
// surfaced to the caller. Authentication detail is never echoed: a failed
// login surfaces as a generic upstream-unavailable failure.
func translateError(err error) (*api.APIError, int) {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusInternalServerError
		if apiErr.Type == api.ErrorTypeInvalidRequest {
			status = http.StatusBadRequest
		}
		return apiErr, status
	}

	var reqErr *upstream.RequestError
	if errors.As(err, &reqErr) {
		return api.NewInvalidRequestError("", reqErr.Message), http.StatusBadRequest
	}

	if upstream.IsAuthorization(err) || credential.IsAuthenticationError(err) {
		return api.NewUpstreamError("upstream service unavailable"), http.StatusBadGateway
	}
	if upstream.IsRetryable(err) {
		return api.NewUpstreamError("upstream service temporarily unavailable"), http.StatusBadGateway
	}

	return api.NewServerError("internal error"), http.StatusInternalServerError
}
