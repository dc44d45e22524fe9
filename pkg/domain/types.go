package domain

import (
	"encoding/json"
	"time"
)

// AuthProvider identifies how an account was established.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
	ProviderGitHub AuthProvider = "github"
)

// MessageRole is the closed set of chat message authors.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ValidRole reports whether role belongs to the closed set.
func ValidRole(role MessageRole) bool {
	return role == RoleUser || role == RoleAssistant
}

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email,omitempty"`
	PasswordHash string       `json:"-"`
	DisplayName  string       `json:"displayName,omitempty"`
	AvatarKey    string       `json:"-"`
	AvatarURL    string       `json:"avatarUrl,omitempty"`
	Provider     AuthProvider `json:"provider"`
	ExternalID   string       `json:"-"`
	// Preferences is an opaque client-owned document; the server only
	// guarantees round-trip storage.
	Preferences json.RawMessage `json:"preferences,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ChatMessage is one entry of a client-supplied chat history.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}
