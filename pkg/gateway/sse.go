package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/qwengate/qwengate/pkg/api"
	"github.com/qwengate/qwengate/pkg/observability"
)

// writerState tracks the state of a chunkWriter.
type writerState int

const (
	writerIdle      writerState = iota // no writes yet
	writerStreaming                    // at least one chunk written
	writerCompleted                    // [DONE] sentinel sent
)

// chunkWriter emits streaming chunks in SSE format with immediate flushing:
// each chunk is written and flushed as soon as it is available, so end-to-end
// buffering never exceeds a single fragment.
type chunkWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

func newChunkWriter(w http.ResponseWriter) *chunkWriter {
	return &chunkWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// writeChunk sends one delta chunk:
//
//	data: {json}\n
//	\n
func (s *chunkWriter) writeChunk(chunk *api.ChunkResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write chunk: stream is completed")
	}
	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
		observability.StreamingConnections.Inc()
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshaling chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing chunk: %w", err)
	}
	return nil
}

// writeError sends an error payload as an SSE data frame. Used to truncate
// an interrupted stream before the sentinel.
func (s *chunkWriter) writeError(apiErr *api.APIError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write error: stream is completed")
	}
	data, err := json.Marshal(&api.ErrorResponse{Error: apiErr})
	if err != nil {
		return fmt.Errorf("marshaling error chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing error chunk: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing error chunk: %w", err)
	}
	return nil
}

// writeDone emits the end-of-stream sentinel. Emitted exactly once, strictly
// after all content chunks; further writes are rejected.
func (s *chunkWriter) writeDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return nil
	}
	if s.state == writerStreaming {
		observability.StreamingConnections.Dec()
	}
	s.state = writerCompleted

	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing [DONE]: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing [DONE]: %w", err)
	}
	return nil
}

// close releases the streaming gauge when the stream ended without the
// sentinel, which happens whenever the client disconnects mid-stream.
// Safe to call after writeDone; the gauge is adjusted at most once.
func (s *chunkWriter) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		observability.StreamingConnections.Dec()
	}
	s.state = writerCompleted
}
