package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"quillchat/internal/app"
	"quillchat/pkg/ai"
	"quillchat/pkg/domain"
	"quillchat/pkg/storage"
	"quillchat/pkg/store"
)

type fakeSessions struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]string
}

func (s *fakeSessions) NewSession(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.seq++
	token := fmt.Sprintf("session-%d", s.seq)
	s.tokens[token] = userID
	return token, nil
}

func (s *fakeSessions) GetUserIDByToken(token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[token]
	return uid, ok, nil
}

func (s *fakeSessions) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *fakeSessions) RevokeUserSessions(userID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, uid := range s.tokens {
		if uid == userID {
			delete(s.tokens, token)
		}
	}
	return nil
}

type scriptedGenerator struct {
	events []ai.StreamEvent
}

func (g *scriptedGenerator) Stream(ctx context.Context, _ []domain.ChatMessage) (<-chan ai.StreamEvent, error) {
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

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, cfg Config, events []ai.StreamEvent) *testEnv {
	t.Helper()
	dataStore := store.NewMemoryStore()
	if events == nil {
		events = []ai.StreamEvent{
			{Type: ai.EventToken, Content: "Hel"},
			{Type: ai.EventToken, Content: "lo"},
			{Type: ai.EventDone, Content: "Hello"},
		}
	}
	application, err := app.New(app.Config{
		Store:         dataStore,
		Sessions:      &fakeSessions{},
		RefreshTokens: store.NewMemoryRefreshTokenStore(),
		Generator:     &scriptedGenerator{events: events},
		Objects:       storage.NewMemoryObjectStore(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = application
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: dataStore}
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) signUp(t *testing.T, email string) (domain.User, string) {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":       email,
		"password":    "Str0ng!Password",
		"displayName": "Tester",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status %d", resp.StatusCode)
	}
	var payload struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	return payload.User, payload.Token
}

type sseEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var events []sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events
}

func TestChatStreamSignedIn(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	_, token := env.signUp(t, "stream@example.com")

	resp := env.doJSON(t, http.MethodPost, "/api/chat", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "say hello"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	events := readSSE(t, resp)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != "token" || events[0].Content != "Hel" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != "done" || last.Message != "Hello" {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	if last.ConversationID == "" {
		t.Fatalf("signed-in chat should return a conversation id")
	}
}

func TestChatStreamAnonymous(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp := env.doJSON(t, http.MethodPost, "/api/chat", "", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	events := readSSE(t, resp)
	last := events[len(events)-1]
	if last.Type != "done" || last.ConversationID != "" {
		t.Fatalf("anonymous chat must not carry a conversation id: %+v", last)
	}
}

func TestChatValidationFailsBeforeStream(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	cases := []map[string]any{
		{"messages": []map[string]string{}},
		{"messages": []map[string]string{{"role": "system", "content": "x"}}},
		{"messages": []map[string]string{{"role": "user", "content": "hi"}, {"role": "assistant", "content": "yo"}}},
	}
	for i, body := range cases {
		resp := env.doJSON(t, http.MethodPost, "/api/chat", "", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status %d", i, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("case %d: validation error should be plain json, got %q", i, ct)
		}
		resp.Body.Close()
	}
}

func TestConversationEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	for _, path := range []string{"/api/conversations", "/api/conversations/some-id", "/api/users/me"} {
		resp := env.doJSON(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestConversationCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	_, token := env.signUp(t, "crud@example.com")
	_, otherToken := env.signUp(t, "other@example.com")

	// Create a conversation by chatting.
	chatResp := env.doJSON(t, http.MethodPost, "/api/chat", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "what is the capital of France?"}},
	})
	events := readSSE(t, chatResp)
	chatResp.Body.Close()
	conversationID := events[len(events)-1].ConversationID
	if conversationID == "" {
		t.Fatalf("no conversation id from chat")
	}

	// List it.
	listResp := env.doJSON(t, http.MethodGet, "/api/conversations", token, nil)
	var listing struct {
		Items []domain.Conversation `json:"items"`
		Count int                   `json:"count"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	listResp.Body.Close()
	if listing.Count != 1 || listing.Items[0].ID != conversationID {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.Items[0].Title != "what is the capital of France?" {
		t.Fatalf("unexpected title: %q", listing.Items[0].Title)
	}

	// Detail includes both messages of the turn.
	detailResp := env.doJSON(t, http.MethodGet, "/api/conversations/"+conversationID, token, nil)
	var detail struct {
		Title    string           `json:"title"`
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(detailResp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	detailResp.Body.Close()
	if len(detail.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(detail.Messages))
	}

	// Another tenant sees 404, not 403.
	foreignResp := env.doJSON(t, http.MethodGet, "/api/conversations/"+conversationID, otherToken, nil)
	if foreignResp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign access: status %d", foreignResp.StatusCode)
	}
	foreignResp.Body.Close()

	// Rename.
	renameResp := env.doJSON(t, http.MethodPatch, "/api/conversations/"+conversationID, token, map[string]string{"title": "geography"})
	if renameResp.StatusCode != http.StatusOK {
		t.Fatalf("rename: status %d", renameResp.StatusCode)
	}
	var renamed domain.Conversation
	if err := json.NewDecoder(renameResp.Body).Decode(&renamed); err != nil {
		t.Fatalf("decode renamed: %v", err)
	}
	renameResp.Body.Close()
	if renamed.Title != "geography" {
		t.Fatalf("unexpected title: %q", renamed.Title)
	}

	// Delete.
	deleteResp := env.doJSON(t, http.MethodDelete, "/api/conversations/"+conversationID, token, nil)
	if deleteResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", deleteResp.StatusCode)
	}
	deleteResp.Body.Close()
	goneResp := env.doJSON(t, http.MethodGet, "/api/conversations/"+conversationID, token, nil)
	if goneResp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete: status %d", goneResp.StatusCode)
	}
	goneResp.Body.Close()
}

func TestSignupRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, Config{
		RedisClient:              client,
		SignupRateLimitPerMinute: 1,
	}, nil)

	first := env.doJSON(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "one@example.com", "password": "Str0ng!Password",
	})
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first signup: status %d", first.StatusCode)
	}

	second := env.doJSON(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "two@example.com", "password": "Str0ng!Password",
	})
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second signup: status %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestLoginRefreshLogoutOverHTTP(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.signUp(t, "flow@example.com")

	loginResp := env.doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "flow@example.com", "password": "Str0ng!Password",
	})
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", loginResp.StatusCode)
	}
	var session struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&session); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	loginResp.Body.Close()

	refreshResp := env.doJSON(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if refreshResp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d", refreshResp.StatusCode)
	}
	var rotated struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(refreshResp.Body).Decode(&rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	refreshResp.Body.Close()
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// Replay of the consumed refresh token is rejected.
	replayResp := env.doJSON(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if replayResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay: status %d", replayResp.StatusCode)
	}
	replayResp.Body.Close()

	logoutResp := env.doJSON(t, http.MethodPost, "/api/auth/logout", rotated.Token, map[string]string{
		"refreshToken": rotated.RefreshToken,
	})
	if logoutResp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", logoutResp.StatusCode)
	}
	logoutResp.Body.Close()

	meResp := env.doJSON(t, http.MethodGet, "/api/users/me", rotated.Token, nil)
	if meResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d", meResp.StatusCode)
	}
	meResp.Body.Close()
}

func TestLogoutAllDevicesOverHTTP(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	_, phoneToken := env.signUp(t, "devices@example.com")

	loginResp := env.doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "devices@example.com", "password": "Str0ng!Password",
	})
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", loginResp.StatusCode)
	}
	var laptop struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(loginResp.Body).Decode(&laptop); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	loginResp.Body.Close()

	logoutResp := env.doJSON(t, http.MethodPost, "/api/auth/logout", laptop.Token, map[string]any{
		"allDevices": true,
	})
	if logoutResp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout all devices: status %d", logoutResp.StatusCode)
	}
	logoutResp.Body.Close()

	// Both sessions are gone, not just the one that made the call.
	for name, token := range map[string]string{"phone": phoneToken, "laptop": laptop.Token} {
		meResp := env.doJSON(t, http.MethodGet, "/api/users/me", token, nil)
		if meResp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s session after all-devices logout: status %d", name, meResp.StatusCode)
		}
		meResp.Body.Close()
	}
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	user, token := env.signUp(t, "me@example.com")

	meResp := env.doJSON(t, http.MethodGet, "/api/users/me", token, nil)
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", meResp.StatusCode)
	}
	var me domain.User
	if err := json.NewDecoder(meResp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	meResp.Body.Close()
	if me.ID != user.ID || me.Email != "me@example.com" {
		t.Fatalf("unexpected profile: %+v", me)
	}

	patchResp := env.doJSON(t, http.MethodPatch, "/api/users/me", token, map[string]string{"displayName": "Renamed"})
	if patchResp.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d", patchResp.StatusCode)
	}
	var patched domain.User
	if err := json.NewDecoder(patchResp.Body).Decode(&patched); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	patchResp.Body.Close()
	if patched.DisplayName != "Renamed" {
		t.Fatalf("unexpected display name: %q", patched.DisplayName)
	}

	prefsResp := env.doJSON(t, http.MethodPut, "/api/users/me/preferences", token, map[string]string{"theme": "dark"})
	if prefsResp.StatusCode != http.StatusOK {
		t.Fatalf("preferences: status %d", prefsResp.StatusCode)
	}
	prefsResp.Body.Close()

	badPrefs := env.doJSON(t, http.MethodPut, "/api/users/me/preferences", token, []string{"not", "an", "object"})
	if badPrefs.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad preferences: status %d", badPrefs.StatusCode)
	}
	badPrefs.Body.Close()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
