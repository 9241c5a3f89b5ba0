package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/access"
	"github.com/eldtechnologies/beechat/internal/api"
	"github.com/eldtechnologies/beechat/internal/api/middleware"
	"github.com/eldtechnologies/beechat/internal/companion"
	"github.com/eldtechnologies/beechat/internal/config"
	"github.com/eldtechnologies/beechat/internal/handlers"
	"github.com/eldtechnologies/beechat/internal/location"
	"github.com/eldtechnologies/beechat/internal/realtime"
	"github.com/eldtechnologies/beechat/internal/registry"
	"github.com/eldtechnologies/beechat/internal/router"
	"github.com/eldtechnologies/beechat/internal/safety"
	"github.com/eldtechnologies/beechat/internal/safetylog"
	"github.com/eldtechnologies/beechat/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	classifier, err := loadClassifier(cfg.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("invalid moderation policy")
	}

	data, backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", backend).Msg("store connection failed")
	}
	defer data.Close()
	logger.Info().Str("backend", backend).Msg("store ready")

	backends := map[string]handlers.Pinger{backend: data}
	var locations store.LocationStore = data

	// Redis holds the hot location history and backs HTTP rate limiting.
	// When it is already the primary backend the same client is reused.
	redisStore, _ := data.(*store.RedisStore)
	if redisStore == nil && cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		backends["redis"] = redisStore
		locations = redisStore
		logger.Info().Msg("connected to Redis")
	}

	reg := registry.New()
	logs := safetylog.New(data, reg, logger, cfg.SafetyLogLimit)
	tracker := location.NewTracker(locations, location.Config{
		Cap:          cfg.LocationCap,
		HistoryLimit: cfg.LocationHistoryLimit,
		Window:       cfg.LocationWindow,
	})
	guard := access.NewGuard(reg, logs, tracker, logger)

	hub := realtime.NewHub()
	bot := companion.New(companion.NewScheduler(), classifier, hub, companion.Config{
		Chance: cfg.CompanionChance,
		Delay:  cfg.CompanionDelay,
	}, logger)

	messages := router.New(router.Deps{
		Sessions: reg,
		Checker:  classifier,
		Messages: data,
		Log:      logs,
		Notifier: hub,
		Rooms:    hub,
		Replier:  bot,
		Logger:   logger,
	})

	gateway := realtime.New(realtime.Deps{
		Hub:       hub,
		Sessions:  reg,
		Router:    messages,
		Locations: tracker,
		Guard:     guard,
		Tasks:     bot,
		Logger:    logger,
	})

	opts := api.Options{
		FrontendURL: cfg.FrontendURL,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	}
	if redisStore != nil {
		opts.Redis = redisStore.Client()
	}
	h := handlers.NewHandler(reg, data, tracker, backends)
	r := api.NewRouter(logger, h, gateway.Handler(), opts)

	// No Read/WriteTimeout: they would stay armed on hijacked websocket conns.
	// The gateway sets its own write deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting BEEChat server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	// http.Server does not track hijacked connections
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("websocket shutdown incomplete")
	}

	logger.Info().Msg("server stopped")
}

// loadClassifier builds the classifier from the policy file, or from the
// embedded default when path is empty.
func loadClassifier(path string) (*safety.Classifier, error) {
	policy, err := safety.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return safety.NewClassifier(policy)
}

// openStore picks the primary backend: Postgres, then SQLite, then Redis,
// then memory.
func openStore(ctx context.Context, cfg *config.Config) (store.DataStore, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		return s, "postgres", err
	case cfg.SQLitePath != "":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		return s, "sqlite", err
	case cfg.RedisURL != "":
		s, err := store.NewRedisStore(ctx, cfg.RedisURL)
		return s, "redis", err
	default:
		return store.NewMemoryStore(), "memory", nil
	}
}
