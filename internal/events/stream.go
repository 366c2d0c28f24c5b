package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
)

// DefaultHeartbeat is the idle interval between keep-alive writes.
const DefaultHeartbeat = 30 * time.Second

// Content types for the two framings.
const (
	ContentTypeSSE    = "text/event-stream"
	ContentTypeNDJSON = "application/x-ndjson"
)

// Writer frames encoded events on a stream. Each call writes and flushes one
// message; there is no batching.
type Writer interface {
	WriteEvent(t orchestrator.EventType, data []byte) error
	Heartbeat() error
	ContentType() string
}

type flusher interface {
	Flush()
}

func flush(w io.Writer) {
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}

// SSEWriter writes `event: <type>` / `data: <json>` messages.
type SSEWriter struct {
	w io.Writer
}

// NewSSEWriter wraps w. w is flushed after every message when it supports it.
func NewSSEWriter(w io.Writer) *SSEWriter {
	return &SSEWriter{w: w}
}

func (s *SSEWriter) WriteEvent(t orchestrator.EventType, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", t, data); err != nil {
		return err
	}
	flush(s.w)
	return nil
}

func (s *SSEWriter) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	flush(s.w)
	return nil
}

func (s *SSEWriter) ContentType() string { return ContentTypeSSE }

// NDJSONWriter writes one JSON event per line.
type NDJSONWriter struct {
	w io.Writer
}

// NewNDJSONWriter wraps w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w}
}

func (n *NDJSONWriter) WriteEvent(_ orchestrator.EventType, data []byte) error {
	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'
	if _, err := n.w.Write(line); err != nil {
		return err
	}
	flush(n.w)
	return nil
}

// Heartbeat writes an empty line, which NDJSON readers skip.
func (n *NDJSONWriter) Heartbeat() error {
	if _, err := io.WriteString(n.w, "\n"); err != nil {
		return err
	}
	flush(n.w)
	return nil
}

func (n *NDJSONWriter) ContentType() string { return ContentTypeNDJSON }

// WriterFor picks SSE when accept asks for text/event-stream, NDJSON otherwise.
func WriterFor(accept string, w io.Writer) Writer {
	if accept == ContentTypeSSE || containsMediaType(accept, ContentTypeSSE) {
		return NewSSEWriter(w)
	}
	return NewNDJSONWriter(w)
}

// SetStreamHeaders prepares an HTTP response for streaming.
func SetStreamHeaders(h http.Header, w Writer) {
	h.Set("Content-Type", w.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Stream writes events from ch in order until a terminal event is written, ch
// is closed, or ctx is done. A heartbeat is written after each idle interval.
func Stream(ctx context.Context, ch <-chan orchestrator.Event, w Writer, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("encoding %s event: %w", event.Type, err)
			}
			if err := w.WriteEvent(event.Type, data); err != nil {
				return err
			}
			if event.Type.Terminal() {
				return nil
			}
			ticker.Reset(heartbeat)
		case <-ticker.C:
			if err := w.Heartbeat(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func containsMediaType(accept, want string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == want {
			return true
		}
	}
	return false
}
