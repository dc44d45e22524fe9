package ai

import (
	"context"

	"quillchat/pkg/domain"
)

// EventType classifies stream events.
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one item of a generation stream. Token events carry an
// incremental fragment; the done event carries the full accumulated text;
// the error event carries a client-safe description.
type StreamEvent struct {
	Type    EventType
	Content string
	Err     string
}

// StreamGenerator streams a model completion for a chat history.
// The returned channel yields zero or more token events in order, then
// exactly one done or error event, and is closed afterwards. An error
// before the stream could be opened is returned directly.
type StreamGenerator interface {
	Stream(ctx context.Context, history []domain.ChatMessage) (<-chan StreamEvent, error)
}
