package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quillchat/internal/app"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// GitHubVerifier resolves a GitHub OAuth access token to the account it
// belongs to. GitHub does not issue OIDC ID tokens for web OAuth flows, so
// the token is verified by calling the user endpoint with it.
type GitHubVerifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHubVerifier creates a verifier against the public GitHub API.
func NewGitHubVerifier() *GitHubVerifier {
	return &GitHubVerifier{
		baseURL:    defaultGitHubAPIBaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// NewGitHubVerifierWithBaseURL creates a verifier against a custom API host,
// for GitHub Enterprise or tests.
func NewGitHubVerifierWithBaseURL(baseURL string) *GitHubVerifier {
	return &GitHubVerifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Verify exchanges the access token for the authenticated user's profile.
func (v *GitHubVerifier) Verify(ctx context.Context, accessToken string) (app.Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return app.Identity{}, errors.New("access token required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/user", nil)
	if err != nil {
		return app.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return app.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return app.Identity{}, errors.New("github rejected the access token")
	}
	if resp.StatusCode != http.StatusOK {
		return app.Identity{}, fmt.Errorf("github user lookup: status %d", resp.StatusCode)
	}
	var user githubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return app.Identity{}, err
	}
	if user.ID == 0 {
		return app.Identity{}, errors.New("github user id missing")
	}
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = strings.TrimSpace(user.Login)
	}
	return app.Identity{
		Subject:   strconv.FormatInt(user.ID, 10),
		Email:     strings.TrimSpace(user.Email),
		Name:      name,
		AvatarURL: strings.TrimSpace(user.AvatarURL),
	}, nil
}
