package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"connsura/api/internal/app"
	"connsura/api/internal/authpw"
	"connsura/api/internal/config"
	"connsura/api/internal/consent"
	"connsura/api/internal/email"
	"connsura/api/internal/export"
	"connsura/api/internal/legalrepo"
	"connsura/api/internal/search"
	"connsura/api/internal/session"
	"connsura/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.LegalRepoDir, 0o755); err != nil {
		log.Fatalf("failed to create legal repo dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}
	go searchService.ReindexAllFromPG(ctx)

	// Redis holds refresh sessions and the share code attempt limiter; fall
	// back to Postgres sessions (and no limiter) when it is not available.
	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	} = dataStore
	var limiter *session.CodeLimiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable, using Postgres sessions without code attempt limiting: %v", err)
			_ = client.Close()
		} else {
			log.Printf("Using Redis for refresh token storage")
			defer client.Close()
			sessions = session.NewRedisStoreWithClient(client)
			limiter = session.NewCodeLimiter(client, cfg.CodeMaxAttempts, cfg.CodeAttemptWindow)
		}
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	var archive *export.Archive
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err = export.NewArchive(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: PDF archive disabled: %v", err)
			archive = nil
		}
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(
		cfg,
		dataStore,
		sessions,
		limiter,
		consent.NewService(dataStore),
		searchService,
		export.NewService(archive),
		emailService,
		legalrepo.New(cfg.LegalRepoDir),
		authpw.NewService(dataStore),
	)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Connsura API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
