package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Totodore/doscenario-services/cmd/server/internal/api"
	"github.com/Totodore/doscenario-services/cmd/server/internal/config"
	"github.com/Totodore/doscenario-services/cmd/server/internal/docs"
	"github.com/Totodore/doscenario-services/cmd/server/internal/middleware"
	"github.com/Totodore/doscenario-services/cmd/server/internal/storage"
	"github.com/Totodore/doscenario-services/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: envForLogger(cfg),
		WithSource:  !cfg.IsProduction(),
		File:        logger.FileConfig{Path: cfg.Log.File},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "docs-server")

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize JWT secret
	jwtSecret := []byte(cfg.Security.JWTSecret)
	if len(jwtSecret) == 0 {
		if cfg.IsDevelopment() {
			appLogger.Warn("PRIVATE_KEY not set, using dev secret")
			jwtSecret = []byte("dev-secret-change-me")
		} else {
			appLogger.Error("PRIVATE_KEY not set")
			os.Exit(1)
		}
	}

	// Connect to Postgres
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		appLogger.Error("invalid database url", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		appLogger.Error("database pool init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	store := storage.NewPGStore(pool)
	appLogger.Info("database pool ready", "max_conns", cfg.Database.MaxConns)

	// Initialize session id generator and docs service
	sessionIDs, err := docs.NewSessionIDs()
	if err != nil {
		appLogger.Error("session id generator init failed", "error", err)
		os.Exit(1)
	}
	docsService := docs.NewService(store, docs.CacheConfig{
		SweepInterval: cfg.Cache.SweepInterval,
		StaleAfter:    cfg.Cache.StaleAfter,
		MaxBatches:    cfg.Cache.MaxBatches,
	}, sessionIDs, logInstance.With("component", "docs-core"))
	appLogger.Info("docs service ready",
		"sweep_interval", cfg.Cache.SweepInterval,
		"stale_after", cfg.Cache.StaleAfter,
		"max_batches", cfg.Cache.MaxBatches,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Security.CORSAllowedOrigins))
	r.Use(middleware.Auth(jwtSecret, logInstance.With("component", "auth-middleware")))

	// Health and metrics endpoints (no authentication required)
	startTime := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"env":    cfg.Server.Env,
			"uptime": time.Since(startTime).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Document synchronization routes
	r.GET("/api/v1/docs/:id/subscribe", api.HandleSubscribeDoc(docsService))
	r.GET("/api/v1/docs/:id", api.HandleOpenDoc(docsService))
	r.POST("/api/v1/docs", api.HandleCreateDoc(docsService))
	r.POST("/api/v1/docs/:id/write", api.HandleWriteDoc(docsService))
	r.POST("/api/v1/docs/:id/close", api.HandleCloseDoc(docsService))
	r.POST("/api/v1/docs/:id/checksum", api.HandleChecksumCheck(docsService))
	r.DELETE("/api/v1/docs/:id", api.HandleRemoveDoc(docsService))

	// Create HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}

	// Flush all pending change logs before exiting
	docsService.Shutdown(ctx)
	appLogger.Info("server shutdown complete")
}

func envForLogger(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "prod"
	}
	return strings.ToLower(cfg.Server.Env)
}
