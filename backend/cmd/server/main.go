package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/adapter"
	"voice-bridge/backend/internal/auth"
	"voice-bridge/backend/internal/graph"
	"voice-bridge/backend/internal/session"
	"voice-bridge/backend/internal/turn"
	"voice-bridge/backend/internal/upstream"
	"voice-bridge/backend/pkg/config"
	"voice-bridge/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()
	if cfg.LogLevel != "" {
		if err := logger.SetLevel(cfg.LogLevel); err != nil {
			logger.Get().Warn("Ignoring LOG_LEVEL", zap.Error(err))
		}
	}

	log := logger.Get()
	log.Info("Starting voice bridge server...")

	if !cfg.HasUpstreamKey() {
		log.Warn("GOOGLE_API_KEY is not set, every session will be rejected")
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	// Initialize dependencies
	graphRepo := graph.NewRepository(driver)
	defer graphRepo.Close(context.Background())
	if err := graphRepo.EnsureSchema(ctx); err != nil {
		log.Warn("Failed to ensure graph schema", zap.Error(err))
	}

	llmAdapter := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)

	var refiner turn.Refiner
	if cfg.RefineEnabled {
		refiner = llmAdapter
	}

	registry := session.NewRegistry(session.Dependencies{
		Store:    graphRepo,
		Refiner:  refiner,
		Reporter: llmAdapter,
		Upstream: upstream.NewFactory(logger.Named("upstream")),
		Settings: session.Settings{
			UpstreamURL:    cfg.UpstreamURL,
			APIKey:         cfg.GoogleAPIKey,
			HistoryLimit:   cfg.HistoryLimit,
			PersistTimeout: cfg.PersistTimeout,
			RefineTimeout:  cfg.RefineTimeout,
			ReportTimeout:  cfg.ReportTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		},
		Logger: logger.Named("session"),
	})

	validator := auth.NewValidator(cfg.JWTSecret, cfg.JWTRefreshSecret)
	router := newServer(cfg, registry, validator, log).routes()

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("live_model", cfg.LiveModel),
		zap.Bool("refine_enabled", cfg.RefineEnabled),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", zap.Int("active_sessions", registry.Count()))

	// Hijacked websocket connections are not tracked by Shutdown
	registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
