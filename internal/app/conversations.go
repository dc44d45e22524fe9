package app

import (
	"fmt"
	"strings"

	"quillchat/pkg/domain"
)

// ConversationDetail is one conversation with its full message history.
type ConversationDetail struct {
	domain.Conversation
	Messages []domain.Message `json:"messages"`
}

// ListConversations lists the user's conversations, most recently active first.
func (a *App) ListConversations(user domain.User) ([]domain.Conversation, error) {
	items, err := a.store.ListConversations(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if items == nil {
		items = []domain.Conversation{}
	}
	return items, nil
}

// GetConversation returns one conversation with messages. A conversation
// owned by someone else is reported as not found.
func (a *App) GetConversation(user domain.User, conversationID string) (ConversationDetail, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ConversationDetail{}, ErrConversationNotFound
	}
	conversation, ok, err := a.store.GetConversation(conversationID, user.ID)
	if err != nil {
		return ConversationDetail{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return ConversationDetail{}, ErrConversationNotFound
	}
	messages, err := a.store.ListMessages(conversationID, user.ID)
	if err != nil {
		return ConversationDetail{}, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return ConversationDetail{Conversation: conversation, Messages: messages}, nil
}

// RenameConversation updates a conversation title.
func (a *App) RenameConversation(user domain.User, conversationID, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, ErrTitleRequired
	}
	ok, err := a.store.RenameConversation(strings.TrimSpace(conversationID), user.ID, title)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	conversation, _, err := a.store.GetConversation(strings.TrimSpace(conversationID), user.ID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return conversation, nil
}

// DeleteConversation removes a conversation and its messages.
func (a *App) DeleteConversation(user domain.User, conversationID string) error {
	ok, err := a.store.DeleteConversation(strings.TrimSpace(conversationID), user.ID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if !ok {
		return ErrConversationNotFound
	}
	return nil
}
