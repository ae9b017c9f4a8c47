package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/cache"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/config"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/logging"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/movement"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/normalizer"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/pruner"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/scheduler"
)

func main() {
	fmt.Println("=== Fortuna Odds Tracker v0 ===")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.File)

	// Connect to Postgres
	db, err := connectDB(cfg.PostgresDSN)
	if err != nil {
		fmt.Printf("❌ Failed to connect to Postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	fmt.Println("✓ Connected to Postgres")

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Printf("❌ Failed to parse Redis URL: %v\n", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fmt.Printf("❌ Failed to connect to Redis: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Connected to Redis")

	// Movement persistence
	store := movement.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Printf("❌ Failed to ensure schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Movement tables ready")

	recorder := movement.NewRecorder(store, cfg.Movement.ChunkSize, logging.Component(logger, "recorder"))
	detector := movement.NewDetector(store, cfg.Movement.Epsilon, cfg.Movement.QuietPeriod,
		cfg.Movement.ChunkSize, logging.Component(logger, "detector"))
	publisher := movement.NewStreamPublisher(redisClient)
	pipeline := movement.NewPipeline(recorder, detector, publisher, logging.Component(logger, "pipeline"))

	// Upstream provider
	providerClient := provider.New(provider.Options{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		GamesTimeout:      cfg.Provider.GamesTimeout,
		PropsTimeout:      cfg.Provider.PropsTimeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, logging.Component(logger, "provider"))

	norm := normalizer.New(cfg.Provider.GameBooks, cfg.Provider.PropBooks, logging.Component(logger, "normalizer"))

	// Cache service
	sharedStore := cache.NewRedisStore(redisClient, cfg.Cache.RedisKey)
	cacheService := cache.NewService(providerClient, norm, sharedStore, pipeline, cache.Options{
		SoftStaleAfter:   cfg.Cache.SoftStaleAfter,
		RefreshInterval:  cfg.Cache.RefreshInterval,
		LookbackHours:    cfg.Provider.LookbackHours,
		LookaheadHours:   cfg.Provider.LookaheadHours,
		PropWorkers:      cfg.Provider.PropWorkers,
		RateLimitRetries: cfg.Provider.RateLimitRetries,
		RetryBaseDelay:   cfg.Provider.RetryBaseDelay,
	}, logging.Component(logger, "cache"))

	prune := pruner.New(store, cfg.Retention.Horizon, cfg.Retention.BatchSize, logging.Component(logger, "pruner"))

	// Background loops
	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()

	sched := scheduler.New(cacheService, prune, cfg.Cache.RefreshInterval, cfg.Retention.Interval,
		logging.Component(logger, "scheduler"))
	go sched.Run(schedCtx)

	// HTTP surface
	handler := handlers.NewHandler(cacheService, store, prune, logging.Component(logger, "http"))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/odds", handler.GetOdds)
		r.Post("/odds/refresh", handler.RefreshOdds)
		r.Get("/movements", handler.GetMovements)
		r.Get("/movements/{gameID}/opening", handler.GetOpeningLines)
		r.Post("/admin/prune", handler.TriggerPrune)
	})

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		fmt.Printf("✓ Odds Tracker listening on %s\n", cfg.Port)
		fmt.Println("  Endpoints:")
		fmt.Println("    GET  /health")
		fmt.Println("    GET  /api/v1/odds")
		fmt.Println("    POST /api/v1/odds/refresh")
		fmt.Println("    GET  /api/v1/movements")
		fmt.Println("    GET  /api/v1/movements/{gameID}/opening")
		fmt.Println("    POST /api/v1/admin/prune")

		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		fmt.Printf("❌ Server error: %v\n", err)
		os.Exit(1)

	case sig := <-shutdown:
		fmt.Printf("\n⚠️  Received signal: %v\n", sig)
		cancelSched()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("⚠️  Graceful shutdown failed: %v\n", err)
			if err := srv.Close(); err != nil {
				fmt.Printf("❌ Could not stop server: %v\n", err)
			}
		}
	}

	fmt.Println("✓ Shutdown complete")
}

// connectDB opens a direct database connection.
func connectDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
