package upstream

import "github.com/qwengate/qwengate/pkg/api"

// Wire types for the upstream chat-completion endpoint. Kept separate from
// pkg/api even where the shapes coincide: the upstream format is not a
// contract we control, and the translation boundary stays explicit.

// chatRequest is the body sent to the upstream completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []api.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// chatResponse is a non-streaming upstream response.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

// chatChunk is a single upstream SSE frame payload.
type chatChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatErrorResponse is the upstream error body shape.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Completion is the translated result of a non-streaming upstream call.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        *api.Usage
}

// StreamEvent is one translated element of an upstream stream. Exactly one
// of the fields is meaningful per event: Delta carries an incremental content
// fragment, FinishReason marks the natural end of the stream (optionally with
// Usage), and Err reports an interruption. The channel closing is the
// end-of-stream signal.
type StreamEvent struct {
	Delta        string
	FinishReason string
	Usage        *api.Usage
	Err          error
}

// Params are the optional sampling parameters forwarded upstream.
type Params struct {
	Temperature *float64
	MaxTokens   *int
}
