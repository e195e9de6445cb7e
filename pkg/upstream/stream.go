package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/qwengate/qwengate/pkg/api"
)

// doneSentinel ends an upstream SSE stream.
const doneSentinel = "[DONE]"

// parseSSE reads upstream SSE frames from body, translates each one into a
// StreamEvent, and sends them on ch. The channel is NOT closed here; the
// caller owns it.
//
// Expected frame format:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// A frame boundary that splits a logical unit across two network reads is
// buffered by the scanner until the full line is available. Malformed frames
// are logged and skipped. Context cancellation stops reading immediately.
func parseSSE(ctx context.Context, body io.Reader, ch chan<- StreamEvent, logger *slog.Logger) {
	scanner := bufio.NewScanner(body)
	// Deltas carrying large content fragments can exceed the default token
	// size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		// SSE lines without a data field (blank separators, ": " comments)
		// carry nothing to translate.
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == doneSentinel {
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logger.Warn("skipping malformed upstream frame",
				slog.String("error", err.Error()),
				slog.String("data", truncate(payload, 200)))
			continue
		}

		translateChunk(&chunk, ch)
	}

	// Scanner error: the upstream connection dropped before a natural end.
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		ch <- StreamEvent{Err: &RetryableError{Message: "stream interrupted: " + err.Error(), Err: err}}
	}
}

// translateChunk converts one upstream frame into zero or more StreamEvents.
func translateChunk(chunk *chatChunk, ch chan<- StreamEvent) {
	if len(chunk.Choices) == 0 {
		// Usage-only final frame.
		if chunk.Usage != nil {
			ch <- StreamEvent{Usage: translateUsage(chunk.Usage)}
		}
		return
	}

	choice := chunk.Choices[0]

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		// Flush any content riding on the terminal frame first so ordering
		// (all fragments, then the finish) holds.
		if choice.Delta.Content != "" {
			ch <- StreamEvent{Delta: choice.Delta.Content}
		}
		ch <- StreamEvent{
			FinishReason: *choice.FinishReason,
			Usage:        translateUsage(chunk.Usage),
		}
		return
	}

	if choice.Delta.Content != "" {
		ch <- StreamEvent{Delta: choice.Delta.Content}
	}
	// Role-only frames (message start) carry no content to relay.
}

func translateUsage(u *chatUsage) *api.Usage {
	if u == nil {
		return nil
	}
	return &api.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// truncate limits a string to maxLen characters for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
