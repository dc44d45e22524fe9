package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quillchat/internal/util"
	"quillchat/pkg/auth"
	"quillchat/pkg/domain"
	"quillchat/pkg/store"
)

// SignUp registers a new local account and issues a token pair.
func (a *App) SignUp(email, password, displayName string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", "", fmt.Errorf("%w: %s", ErrWeakPassword, err)
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(displayName),
		Provider:     domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	return a.issueUserTokens(user)
}

// Login validates credentials and issues a token pair.
func (a *App) Login(email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || strings.TrimSpace(user.PasswordHash) == "" {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	return a.issueUserTokens(user)
}

// LoginWithProvider verifies a federated identity token and signs the user
// in, linking or creating an account as needed. Matching order: existing
// (provider, subject) pair first, then existing account with the same
// email, then a brand new account.
func (a *App) LoginWithProvider(ctx context.Context, provider domain.AuthProvider, idToken string) (domain.User, string, string, error) {
	verifier, ok := a.verifiers[provider]
	if !ok {
		return domain.User{}, "", "", ErrUnsupportedProvider
	}
	if strings.TrimSpace(idToken) == "" {
		return domain.User{}, "", "", ErrIdentityTokenRequired
	}
	identity, err := verifier.Verify(ctx, idToken)
	if err != nil {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if strings.TrimSpace(identity.Subject) == "" {
		return domain.User{}, "", "", ErrInvalidCredentials
	}

	user, found, err := a.store.GetUserByProviderSubject(provider, identity.Subject)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user by subject: %w", err)
	}
	if found {
		return a.issueUserTokens(user)
	}

	email := strings.TrimSpace(strings.ToLower(identity.Email))
	if email != "" {
		existing, ok, err := a.store.GetUserByEmail(email)
		if err != nil {
			return domain.User{}, "", "", fmt.Errorf("fetch user by email: %w", err)
		}
		if ok {
			// Attach the federated identity to the existing account.
			// The password hash is kept so local login keeps working.
			existing.Provider = provider
			existing.ExternalID = identity.Subject
			if existing.DisplayName == "" {
				existing.DisplayName = strings.TrimSpace(identity.Name)
			}
			existing.UpdatedAt = time.Now().UTC()
			if err := a.store.SaveUser(existing); err != nil {
				if winner, ok := a.linkedAccount(provider, identity.Subject); ok {
					return a.issueUserTokens(winner)
				}
				return domain.User{}, "", "", fmt.Errorf("link identity: %w", err)
			}
			return a.issueUserTokens(existing)
		}
	}

	now := time.Now().UTC()
	user = domain.User{
		ID:          util.NewID(),
		Email:       email,
		DisplayName: strings.TrimSpace(identity.Name),
		AvatarURL:   strings.TrimSpace(identity.AvatarURL),
		Provider:    provider,
		ExternalID:  identity.Subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if winner, ok := a.linkedAccount(provider, identity.Subject); ok {
			return a.issueUserTokens(winner)
		}
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	return a.issueUserTokens(user)
}

// linkedAccount resolves the account holding a federated identity. Used when
// a save loses the race against a concurrent login for the same identity:
// the store's uniqueness constraint rejects the duplicate and the winning
// row is the account to sign in.
func (a *App) linkedAccount(provider domain.AuthProvider, subject string) (domain.User, bool) {
	user, ok, err := a.store.GetUserByProviderSubject(provider, subject)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return user, true
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout invalidates the access token and optional refresh token.
func (a *App) Logout(accessToken, refreshToken string) error {
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return err
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return a.refreshTokens.DeleteToken(refreshToken)
}

// LogoutAllDevices invalidates every session and refresh token belonging
// to the caller. Revocation depends on what the configured stores support;
// a store without bulk revocation keeps its tokens and only the presented
// session dies.
func (a *App) LogoutAllDevices(accessToken string) error {
	userID, ok, err := a.sessions.GetUserIDByToken(accessToken)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if revoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(userID, time.Now().UTC()); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	} else if err := a.sessions.DeleteSession(accessToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if revoker, ok := a.refreshTokens.(store.UserRefreshTokenRevoker); ok {
		if err := revoker.RevokeUserRefreshTokens(userID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
	}
	return nil
}

// Refresh rotates a refresh token and issues a new token pair.
func (a *App) Refresh(refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	userID, newRefreshToken, err := a.refreshTokens.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("resolve refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		_ = a.refreshTokens.DeleteToken(newRefreshToken)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, newRefreshToken, nil
}

// JWKS returns public signing keys when the session store supports it.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(store.JWKSProvider)
	if !ok {
		return nil
	}
	return provider.JWKS()
}

func (a *App) issueUserTokens(user domain.User) (domain.User, string, string, error) {
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.NewToken(user.ID, a.refreshTTL)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return user, accessToken, refreshToken, nil
}
