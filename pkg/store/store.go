package store

import (
	"errors"
	"time"

	"quillchat/pkg/domain"
)

// ErrProviderSubjectTaken indicates another account already holds the
// (provider, external subject) pair being saved.
var ErrProviderSubjectTaken = errors.New("federated identity already linked to another account")

// Store defines persistence for users, conversations, and messages.
// Conversation and message operations are scoped to an owner: an id that
// exists but belongs to someone else behaves exactly like one that does
// not exist.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByProviderSubject(provider domain.AuthProvider, subject string) (domain.User, bool, error)

	// conversations
	CreateConversation(domain.Conversation) error
	GetConversation(id, ownerID string) (domain.Conversation, bool, error)
	ListConversations(ownerID string) ([]domain.Conversation, error)
	RenameConversation(id, ownerID, title string) (bool, error)
	DeleteConversation(id, ownerID string) (bool, error)

	// messages
	AppendMessage(conversationID, ownerID string, msg domain.Message) (bool, error)
	ListMessages(conversationID, ownerID string) ([]domain.Message, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
