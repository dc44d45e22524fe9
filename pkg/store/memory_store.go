package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"quillchat/pkg/domain"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversationID -> ordered messages
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

// SaveUser registers or updates a user. A (provider, external id) pair may
// belong to at most one account.
func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ExternalID != "" {
		for _, existing := range s.users {
			if existing.ID != u.ID && existing.Provider == u.Provider && existing.ExternalID == u.ExternalID {
				return ErrProviderSubjectTaken
			}
		}
	}
	s.users[u.ID] = u
	return nil
}

// HasUserEmail checks if email exists.
func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	_, ok, err := s.GetUserByEmail(email)
	return ok, err
}

// GetUserByEmail looks up a user by email.
func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	return u, ok, nil
}

// GetUserByProviderSubject looks up a user by federated identity.
func (s *MemoryStore) GetUserByProviderSubject(provider domain.AuthProvider, subject string) (domain.User, bool, error) {
	if subject == "" {
		return domain.User{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Provider == provider && u.ExternalID == subject {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// CreateConversation creates a new conversation record.
func (s *MemoryStore) CreateConversation(c domain.Conversation) error {
	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()
	return nil
}

// GetConversation returns one conversation scoped to its owner.
func (s *MemoryStore) GetConversation(id, ownerID string) (domain.Conversation, bool, error) {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok || c.OwnerID != ownerID {
		return domain.Conversation{}, false, nil
	}
	return c, true, nil
}

// ListConversations returns a user's conversations, most recently active first.
func (s *MemoryStore) ListConversations(ownerID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	items := make([]domain.Conversation, 0)
	for _, c := range s.conversations {
		if c.OwnerID == ownerID {
			items = append(items, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

// RenameConversation sets a new title.
func (s *MemoryStore) RenameConversation(id, ownerID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return false, nil
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return true, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *MemoryStore) DeleteConversation(id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return false, nil
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return true, nil
}

// AppendMessage records a message and bumps the conversation's updated_at.
func (s *MemoryStore) AppendMessage(conversationID, ownerID string, msg domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return false, nil
	}
	msg.ConversationID = conversationID
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	c.UpdatedAt = time.Now().UTC()
	s.conversations[conversationID] = c
	return true, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *MemoryStore) ListMessages(conversationID, ownerID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, nil
	}
	msgs := make([]domain.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	return msgs, nil
}
