package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseTransport writes stream events as server-sent events, one
// "data: {json}" frame per event, flushed immediately.
type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSETransport(w http.ResponseWriter) (*sseTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &sseTransport{w: w, flusher: flusher}, nil
}

func (t *sseTransport) start() {
	if t.started {
		return
	}
	t.started = true
	t.w.Header().Set("Content-Type", "text/event-stream")
	t.w.Header().Set("Cache-Control", "no-cache")
	t.w.Header().Set("Connection", "keep-alive")
	t.w.WriteHeader(http.StatusOK)
	t.flusher.Flush()
}

func (t *sseTransport) send(payload any) error {
	t.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SendToken implements app.StreamTransport.
func (t *sseTransport) SendToken(content string) error {
	return t.send(tokenEvent{Type: "token", Content: content})
}

// SendDone implements app.StreamTransport.
func (t *sseTransport) SendDone(message, conversationID string) error {
	return t.send(doneEvent{Type: "done", Message: message, ConversationID: conversationID})
}

// SendError implements app.StreamTransport.
func (t *sseTransport) SendError(message string) error {
	return t.send(errorEvent{Type: "error", Error: message})
}
