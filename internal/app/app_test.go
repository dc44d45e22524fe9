package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quillchat/pkg/ai"
	"quillchat/pkg/domain"
	"quillchat/pkg/storage"
	"quillchat/pkg/store"
)

// fakeSessionStore issues predictable opaque tokens for tests.
type fakeSessionStore struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{tokens: make(map[string]string)}
}

func (s *fakeSessionStore) NewSession(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	token := fmt.Sprintf("session-%d", s.seq)
	s.tokens[token] = userID
	return token, nil
}

func (s *fakeSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[token]
	return uid, ok, nil
}

func (s *fakeSessionStore) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *fakeSessionStore) RevokeUserSessions(userID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, token)
		}
	}
	return nil
}

// scriptedGenerator replays a fixed event sequence.
type scriptedGenerator struct {
	openErr error
	events  []ai.StreamEvent
}

func (g *scriptedGenerator) Stream(ctx context.Context, _ []domain.ChatMessage) (<-chan ai.StreamEvent, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	ch := make(chan ai.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range g.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// recordingTransport captures everything sent to the client.
type recordingTransport struct {
	tokens             []string
	doneCount          int
	doneMessage        string
	doneConversationID string
	errors             []string
}

func (t *recordingTransport) SendToken(content string) error {
	t.tokens = append(t.tokens, content)
	return nil
}

func (t *recordingTransport) SendDone(message, conversationID string) error {
	t.doneCount++
	t.doneMessage = message
	t.doneConversationID = conversationID
	return nil
}

func (t *recordingTransport) SendError(message string) error {
	t.errors = append(t.errors, message)
	return nil
}

// brokenStore fails conversation writes but keeps reads working.
type brokenStore struct {
	store.Store
}

func (s *brokenStore) CreateConversation(domain.Conversation) error {
	return errors.New("storage down")
}

func (s *brokenStore) AppendMessage(string, string, domain.Message) (bool, error) {
	return false, errors.New("storage down")
}

type fakeVerifier struct {
	identity Identity
	err      error
}

func (v *fakeVerifier) Verify(context.Context, string) (Identity, error) {
	return v.identity, v.err
}

type testAppOptions struct {
	store     store.Store
	generator ai.StreamGenerator
	verifiers map[domain.AuthProvider]IdentityVerifier
}

func newTestApp(t *testing.T, opts testAppOptions) *App {
	t.Helper()
	if opts.store == nil {
		opts.store = store.NewMemoryStore()
	}
	if opts.generator == nil {
		opts.generator = &scriptedGenerator{events: []ai.StreamEvent{{Type: ai.EventDone}}}
	}
	a, err := New(Config{
		Store:         opts.store,
		Sessions:      newFakeSessionStore(),
		RefreshTokens: store.NewMemoryRefreshTokenStore(),
		Generator:     opts.generator,
		Objects:       storage.NewMemoryObjectStore(),
		Verifiers:     opts.verifiers,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func signUpTestUser(t *testing.T, a *App, email string) domain.User {
	t.Helper()
	user, _, _, err := a.SignUp(email, "Str0ng!Password", "Test User")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}
