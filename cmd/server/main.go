package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/loopreach/social-sync/internal/config"
	"github.com/loopreach/social-sync/internal/database"
	"github.com/loopreach/social-sync/internal/handler"
	"github.com/loopreach/social-sync/internal/jobs"
	"github.com/loopreach/social-sync/internal/middleware"
	"github.com/loopreach/social-sync/internal/provider"
	"github.com/loopreach/social-sync/internal/redis"
	"github.com/loopreach/social-sync/internal/repository"
	"github.com/loopreach/social-sync/internal/service"
	"github.com/loopreach/social-sync/internal/statecache"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	credRepo := repository.NewCredentialRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)

	states := statecache.New(redisClient.Client, cfg.StateTTL())
	registry := provider.NewRegistry(cfg)

	handshakeService := service.NewHandshakeService(states, credRepo, registry)
	tokenService := service.NewTokenService(cfg, credRepo, registry)
	metricsService := service.NewMetricsService(
		tokenService, credRepo, profileRepo, registry, cfg.MetricsRetention(),
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.ServiceAPIKey, cfg.ServiceAPIKeyHash)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(
		redisClient.Client, cfg.AnalyticsRateLimitPerMin,
	)

	connectHandler := handler.NewConnectHandler(handshakeService, credRepo)
	analyticsHandler := handler.NewAnalyticsHandler(metricsService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/connect", func(r chi.Router) {
		r.With(authMiddleware.Handler).Get("/{provider}", connectHandler.BeginAuth)
		// The provider redirect carries no API key; the state token binds it.
		r.Get("/{provider}/callback", connectHandler.Callback)
	})

	r.Route("/v1/connections", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", connectHandler.ConnectionRoutes())
	})

	r.Route("/v1/analytics", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.With(rateLimitMiddleware.Handler).Post("/{provider}/sync", analyticsHandler.Sync)
		r.Get("/{provider}", analyticsHandler.LastSnapshot)
	})

	reconcileJob := jobs.NewReconcileJob(credRepo, metricsService, redisClient.Client, cfg)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
