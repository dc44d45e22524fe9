package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"quillchat/pkg/ai"
	"quillchat/pkg/domain"
	"quillchat/pkg/storage"
	"quillchat/pkg/store"
)

// Identity is the verified result of a federated login handshake.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// IdentityVerifier validates a provider-issued identity token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL         string
	RedisClient         *redis.Client
	SessionTTL          time.Duration
	RefreshTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration

	GenerationProvider string
	GenerationBaseURL  string
	GenerationAPIKey   string
	GenerationModel    string
	SystemPrompt       string
	GenerationTimeout  time.Duration

	AvatarURLTTL time.Duration

	// Injection points; defaults are constructed from the fields above.
	Store         store.Store
	Sessions      store.SessionStore
	RefreshTokens store.RefreshTokenStore
	Generator     ai.StreamGenerator
	Objects       storage.ObjectStore
	Verifiers     map[domain.AuthProvider]IdentityVerifier
}

// App is the core application service wiring storage, auth, and chat logic.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	refreshTokens store.RefreshTokenStore
	generator     ai.StreamGenerator
	objects       storage.ObjectStore
	verifiers     map[domain.AuthProvider]IdentityVerifier
	refreshTTL    time.Duration
	avatarURLTTL  time.Duration
}

// New constructs the application with database storage, session management,
// and a streaming model gateway.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.AvatarURLTTL == 0 {
		cfg.AvatarURLTTL = time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
			return nil, fmt.Errorf("jwtPrivateKeyPath is required")
		}
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client is required for jwt session strategy")
		}
		revoker := store.NewRedisTokenRevoker(cfg.RedisClient, cfg.SessionTTL+time.Hour)
		rsStore, err := store.NewJWTRS256SessionStoreFromPEMWithOptions(
			cfg.JWTPrivateKeyPath,
			cfg.JWTPublicKeyPath,
			cfg.JWTKeyID,
			cfg.JWTVerifyPublicKeys,
			cfg.SessionTTL,
			revoker,
			store.JWTOptions{
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				Leeway:   cfg.JWTLeeway,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("init rs256 jwt session store: %w", err)
		}
		sessionStore = rsStore
	}

	refreshStore := cfg.RefreshTokens
	if refreshStore == nil {
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client is required for refresh token strategy")
		}
		refreshStore = store.NewRedisRefreshTokenStore(cfg.RedisClient)
	}

	generator := cfg.Generator
	if generator == nil {
		var err error
		generator, err = newGenerator(cfg)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		store:         dataStore,
		sessions:      sessionStore,
		refreshTokens: refreshStore,
		generator:     generator,
		objects:       cfg.Objects,
		verifiers:     cfg.Verifiers,
		refreshTTL:    cfg.RefreshTTL,
		avatarURLTTL:  cfg.AvatarURLTTL,
	}, nil
}

func newGenerator(cfg Config) (ai.StreamGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	if provider == "" {
		provider = "openai"
	}
	switch provider {
	case "openai":
		return ai.NewOpenAIStreamer(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel, cfg.SystemPrompt, cfg.GenerationTimeout)
	case "ollama":
		return ai.NewOllamaStreamer(cfg.GenerationBaseURL, cfg.GenerationModel, cfg.SystemPrompt, cfg.GenerationTimeout)
	case "gemini":
		return ai.NewGeminiStreamer(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel, cfg.SystemPrompt, cfg.GenerationTimeout)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
