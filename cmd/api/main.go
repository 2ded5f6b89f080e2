package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"daleel.org/internal/auth"
	"daleel.org/internal/config"
	"daleel.org/internal/httpapi"
	"daleel.org/internal/obs"
	"daleel.org/internal/query"
	"daleel.org/internal/store/memory"
	"daleel.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file loaded before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("daleel-api stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// User store: Postgres when a DSN is set, otherwise in memory.
	var (
		db    *sql.DB
		store auth.UserDirectory
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		store = pg.NewUsers(db)
	} else {
		logger.Warn("DALEEL_POSTGRES_DSN not set; users are kept in memory")
		store = memory.NewUsers()
	}

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:    []byte(cfg.Auth.Secret),
		Algorithm: cfg.Auth.Algorithm,
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(codec,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return err
	}
	hasher, err := auth.NewHasher(
		auth.WithHashAlgorithm(auth.HashAlgorithm(cfg.Auth.PasswordAlgorithm)),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens, hasher, auth.WithLogger(logger.Named("auth")))
	if err != nil {
		return err
	}
	guard, err := auth.NewGuard(svc, logger.Named("guard"))
	if err != nil {
		return err
	}
	directory, err := auth.NewDirectory(store, hasher)
	if err != nil {
		return err
	}
	querySvc, err := newQueryService(cfg, logger.Named("query"))
	if err != nil {
		return err
	}

	if err := seedAdmin(context.Background(), cfg.Seed, directory, logger); err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Deps{
		Auth:           svc,
		Guard:          guard,
		Directory:      directory,
		Query:          querySvc,
		Ready:          httpapi.ReadyProbe{DB: db},
		Logger:         logger.Named("http"),
		Version:        version,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		TrustedProxies: cfg.RateLimit.TrustedProxies,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}
	grpcServer, health, err := httpapi.NewGRPC(httpapi.GRPCDeps{
		Auth:   svc,
		Guard:  guard,
		Tokens: tokens,
		Logger: logger.Named("grpc"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	health.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	return runErr
}

func newQueryService(cfg *config.Config, logger *zap.Logger) (*query.Service, error) {
	index := query.NewMemoryIndex()
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("DALEEL_OPENAI_API_KEY not set; using offline hash embeddings without answers")
		return query.NewService(query.HashEmbedder{}, index, query.WithLogger(logger))
	}
	client := query.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	return query.NewService(
		query.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel),
		index,
		query.WithCompleter(query.NewOpenAICompleter(client, cfg.OpenAI.ChatModel)),
		query.WithLogger(logger),
	)
}

// seedAdmin creates the bootstrap global administrator once.
func seedAdmin(ctx context.Context, seed config.Seed, directory *auth.Directory, logger *zap.Logger) error {
	if seed.AdminUsername == "" {
		return nil
	}
	user, created, err := directory.EnsureUser(ctx, auth.NewUser{
		Username: seed.AdminUsername,
		Password: seed.AdminPassword,
		Role:     auth.RoleGlobalAdmin,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		logger.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	}
	return nil
}
