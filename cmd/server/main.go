package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-esl/internal/ai"
	"github.com/p-n-ai/pai-esl/internal/auth"
	"github.com/p-n-ai/pai-esl/internal/content"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/events"
	"github.com/p-n-ai/pai-esl/internal/httpapi"
	"github.com/p-n-ai/pai-esl/internal/learning"
	"github.com/p-n-ai/pai-esl/internal/platform/cache"
	"github.com/p-n-ai/pai-esl/internal/platform/config"
	"github.com/p-n-ai/pai-esl/internal/platform/database"
	"github.com/p-n-ai/pai-esl/internal/platform/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app is the wired service graph and the resources it holds open.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	catalog, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		return nil, err
	}

	checks := map[string]httpapi.Checker{}

	var (
		tx       learning.TxRunner
		accounts auth.Store
		logger   events.Logger = events.NopLogger{}
		bus      events.Bus    = events.NewMemoryBus()
		budget   ai.Budget     = ai.NewInMemoryBudget(cfg.AI.DailyTokenBudget)
	)

	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		tx = learning.NewPostgresTxRunner(db)
		accounts = auth.NewPostgresStore(db.Pool)
		logger = events.NewPostgresLogger(db.Pool)
		checks["database"] = db
	default:
		slog.Warn("using in-memory storage; data is lost on restart")
		tx = learning.NewMemoryTxRunner()
		accounts = auth.NewMemoryStore()
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Warn("cache unavailable, using in-process event bus and token budget", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = c.Close() })
			bus = events.NewRedisBus(c.Client, events.DefaultChannel)
			budget = ai.NewRedisBudget(c, cfg.AI.DailyTokenBudget)
			checks["cache"] = c
		}
	}

	gen, err := newContentGenerator(cfg, budget)
	if err != nil {
		return nil, err
	}

	svc := learning.NewService(learning.Config{
		Tx:        tx,
		Catalog:   catalog,
		Publisher: events.NewPublisher(logger, bus),
	})
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.AccessTokenTTL)*time.Minute)
	authSvc := auth.NewService(accounts, tokens)
	if err := bootstrapAdmin(ctx, authSvc, cfg.Auth); err != nil {
		return nil, err
	}

	a.handler = httpapi.New(httpapi.Config{
		Learning: svc,
		Auth:     authSvc,
		Catalog:  catalog,
		Content:  gen,
		Bus:      bus,
		Checks:   checks,
	}).Handler()
	return a, nil
}

// bootstrapAdmin seeds the configured admin account. An existing account
// with the same email is left untouched.
func bootstrapAdmin(ctx context.Context, svc *auth.Service, cfg config.AuthConfig) error {
	if cfg.BootstrapAdminEmail == "" {
		return nil
	}
	_, err := svc.Register(ctx, cfg.BootstrapAdminEmail, "Administrator", auth.RoleAdmin, cfg.BootstrapAdminPassword)
	switch {
	case errors.Is(err, auth.ErrDuplicate):
		slog.Info("bootstrap admin already exists", "email", cfg.BootstrapAdminEmail)
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

// newContentGenerator returns nil when no AI provider is configured.
func newContentGenerator(cfg *config.Config, budget ai.Budget) (*content.Generator, error) {
	if !cfg.HasAIProvider() {
		slog.Info("no AI provider configured, content generation disabled")
		return nil, nil
	}

	router := ai.NewRouter()
	if cfg.AI.OpenAI.APIKey != "" {
		router.Register(ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, ai.WithBaseURL(cfg.AI.OpenAI.BaseURL)))
	}
	if cfg.AI.Anthropic.APIKey != "" {
		p, err := ai.NewAnthropicProvider(cfg.AI.Anthropic.APIKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		router.Register(p)
	}
	if cfg.AI.Google.APIKey != "" {
		p, err := ai.NewGoogleProvider(cfg.AI.Google.APIKey)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		router.Register(p)
	}
	return content.NewGenerator(router, budget)
}
