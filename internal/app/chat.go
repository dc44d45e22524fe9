package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"quillchat/internal/util"
	"quillchat/pkg/ai"
	"quillchat/pkg/domain"
)

const titleMaxRunes = 50

// ChatRequest is a client-submitted chat turn: the full history plus an
// optional conversation to continue.
type ChatRequest struct {
	Messages       []domain.ChatMessage `json:"messages"`
	ConversationID string               `json:"conversationId,omitempty"`
}

// StreamTransport delivers stream events to the client. Send errors mean
// the client is gone and the stream should be abandoned.
type StreamTransport interface {
	SendToken(content string) error
	SendDone(message, conversationID string) error
	SendError(message string) error
}

// ValidateChatRequest checks a chat request before any streaming starts,
// so failures can still be reported as plain HTTP errors.
func (a *App) ValidateChatRequest(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return ErrChatHistoryRequired
	}
	for _, msg := range req.Messages {
		if !domain.ValidRole(msg.Role) {
			return ErrInvalidChatRole
		}
		if strings.TrimSpace(msg.Content) == "" {
			return ErrChatContentRequired
		}
	}
	if req.Messages[len(req.Messages)-1].Role != domain.RoleUser {
		return ErrLastMessageNotUser
	}
	return nil
}

// StreamChat runs one chat turn: resolve the conversation, persist the
// user's message, stream the model reply through the transport, and
// persist the assistant reply.
//
// Persistence only happens for signed-in users and is best effort: store
// failures are logged and the stream continues. An unknown or foreign
// conversation id silently starts a fresh conversation so ids of other
// tenants cannot be probed.
func (a *App) StreamChat(ctx context.Context, user *domain.User, req ChatRequest, transport StreamTransport) {
	logger := util.LoggerFromContext(ctx)
	if err := a.ValidateChatRequest(req); err != nil {
		_ = transport.SendError(err.Error())
		return
	}

	conversationID := ""
	if user != nil {
		conversationID = a.resolveConversation(*user, req, logger)
		if conversationID != "" {
			userMsg := req.Messages[len(req.Messages)-1]
			appended, err := a.store.AppendMessage(conversationID, user.ID, domain.Message{
				ID:        util.NewID(),
				Role:      domain.RoleUser,
				Content:   userMsg.Content,
				CreatedAt: time.Now().UTC(),
			})
			if err != nil || !appended {
				logger.Warn("persist user message failed", "conversationId", conversationID, "error", err)
			}
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := a.generator.Stream(streamCtx, req.Messages)
	if err != nil {
		logger.Warn("open model stream failed", "error", err)
		_ = transport.SendError("model provider unavailable")
		return
	}

	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		switch ev.Type {
		case ai.EventToken:
			if err := transport.SendToken(ev.Content); err != nil {
				clientGone = true
				cancel()
			}
		case ai.EventDone:
			if user != nil && conversationID != "" {
				appended, err := a.store.AppendMessage(conversationID, user.ID, domain.Message{
					ID:        util.NewID(),
					Role:      domain.RoleAssistant,
					Content:   ev.Content,
					CreatedAt: time.Now().UTC(),
				})
				if err != nil || !appended {
					logger.Warn("persist assistant message failed", "conversationId", conversationID, "error", err)
				}
			}
			if err := transport.SendDone(ev.Content, conversationID); err != nil {
				clientGone = true
				cancel()
			}
		case ai.EventError:
			if err := transport.SendError(ev.Err); err != nil {
				clientGone = true
				cancel()
			}
		}
	}
}

// resolveConversation returns the id of the conversation this turn belongs
// to, creating one when needed. Empty string means nothing could be
// persisted; the turn still streams.
func (a *App) resolveConversation(user domain.User, req ChatRequest, logger *slog.Logger) string {
	requested := strings.TrimSpace(req.ConversationID)
	if requested != "" {
		_, ok, err := a.store.GetConversation(requested, user.ID)
		if err != nil {
			logger.Warn("load conversation failed", "error", err)
		}
		if ok {
			return requested
		}
		// Unknown or not owned by this user; fall through to a fresh
		// conversation without telling the client which case it was.
		logger.Debug("conversation id not usable, starting fresh", "requested", requested)
	}

	now := time.Now().UTC()
	conversation := domain.Conversation{
		ID:        util.NewID(),
		OwnerID:   user.ID,
		Title:     deriveTitle(req.Messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(conversation); err != nil {
		logger.Warn("create conversation failed", "error", err)
		return ""
	}
	return conversation.ID
}

// deriveTitle builds a conversation title from the first user message.
func deriveTitle(messages []domain.ChatMessage) string {
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes]) + "..."
		}
		return text
	}
	return "New conversation"
}
