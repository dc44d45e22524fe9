package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"quillchat/internal/app"
	"quillchat/internal/config"
	"quillchat/internal/identity"
	"quillchat/internal/server"
	"quillchat/internal/util"
	"quillchat/pkg/domain"
	"quillchat/pkg/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		slog.Error("connect redis", "error", err)
		os.Exit(1)
	}
	cancel()

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			slog.Error("init object storage", "error", err)
			os.Exit(1)
		}
		objects = minioStore
	} else {
		slog.Warn("minio not configured, avatar upload disabled")
	}

	verifiers := make(map[domain.AuthProvider]app.IdentityVerifier)
	if cfg.GoogleClientID != "" {
		googleVerifier, err := identity.NewGoogleVerifier(cfg.GoogleClientID)
		if err != nil {
			slog.Error("init google verifier", "error", err)
			os.Exit(1)
		}
		verifiers[domain.ProviderGoogle] = googleVerifier
	}
	if cfg.GitHubOAuth {
		verifiers[domain.ProviderGitHub] = identity.NewGitHubVerifier()
	}

	application, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisClient:         redisClient,
		SessionTTL:          time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		RefreshTTL:          time.Duration(cfg.RefreshTTLHours) * time.Hour,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: cfg.JWTVerifyPublicKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           time.Duration(cfg.JWTLeewaySeconds) * time.Second,
		GenerationProvider:  cfg.GenerationProvider,
		GenerationBaseURL:   cfg.GenerationBaseURL,
		GenerationAPIKey:    cfg.GenerationAPIKey,
		GenerationModel:     cfg.GenerationModel,
		SystemPrompt:        cfg.SystemPrompt,
		GenerationTimeout:   time.Duration(cfg.GenerationTimeoutSeconds) * time.Second,
		Objects:             objects,
		Verifiers:           verifiers,
	})
	if err != nil {
		slog.Error("init app", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(server.Config{
		App:                       application,
		RedisClient:               redisClient,
		SignupRateLimitPerMinute:  cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:   cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute: cfg.RefreshRateLimitPerMinute,
		TrustedProxies:            cfg.TrustedProxies,
	})
	if err != nil {
		slog.Error("init server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: streamed chat responses stay open for the
		// full generation and would be cut off by a fixed deadline.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
