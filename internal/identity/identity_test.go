package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewOIDCVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewOIDCVerifier(OIDCConfig{Issuer: "issuer-a", Audience: "aud-a"}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestOIDCVerifyAndRefreshOnUnknownKid(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key1: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}

	active := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=1")
		resp := map[string]any{"keys": []map[string]string{toJWK(active, publicKeyByKid(active, key1.PublicKey, key2.PublicKey))}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewOIDCVerifier(OIDCConfig{
		JWKSURL:  jwksServer.URL,
		Issuer:   "issuer-a",
		Audience: "aud-a",
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	// First token uses kid-1.
	signed1 := signIDToken(t, key1, "kid-1", idClaims{
		RegisteredClaims: registered("user-a"),
		Email:            "a@example.com",
		Name:             "User A",
		Picture:          "https://img.example.com/a.png",
	})
	got, err := v.Verify(context.Background(), signed1)
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if got.Subject != "user-a" || got.Email != "a@example.com" || got.Name != "User A" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	// Rotate to kid-2; verifier should refresh JWKS on unknown kid and pass.
	active = "kid-2"
	signed2 := signIDToken(t, key2, "kid-2", idClaims{RegisteredClaims: registered("user-b")})
	got, err = v.Verify(context.Background(), signed2)
	if err != nil {
		t.Fatalf("verify token2: %v", err)
	}
	if got.Subject != "user-b" {
		t.Fatalf("unexpected subject: %s", got.Subject)
	}
}

func TestOIDCRejectsFutureIssuedAt(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer jwksServer.Close()

	v, err := NewOIDCVerifier(OIDCConfig{
		JWKSURL:  jwksServer.URL,
		Issuer:   "issuer-a",
		Audience: "aud-a",
		Leeway:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims := idClaims{RegisteredClaims: registered("user-1")}
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
	signed := signIDToken(t, key, "kid-1", claims)
	if _, err := v.Verify(context.Background(), signed); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
}

func TestGitHubVerifier(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         12345,
			"login":      "octocat",
			"name":       "",
			"email":      "octo@example.com",
			"avatar_url": "https://img.example.com/octo.png",
		})
	}))
	defer apiServer.Close()

	v := NewGitHubVerifierWithBaseURL(apiServer.URL)
	got, err := v.Verify(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Subject != "12345" {
		t.Fatalf("unexpected subject: %s", got.Subject)
	}
	if got.Name != "octocat" {
		t.Fatalf("expected login fallback for empty name, got %q", got.Name)
	}
	if got.Email != "octo@example.com" {
		t.Fatalf("unexpected email: %s", got.Email)
	}

	if _, err := v.Verify(context.Background(), "bad-token"); err == nil {
		t.Fatalf("expected rejected token to fail")
	}
}

func toJWK(kid string, pub rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func publicKeyByKid(kid string, key1, key2 rsa.PublicKey) rsa.PublicKey {
	if kid == "kid-1" {
		return key1
	}
	return key2
}

func registered(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims idClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
