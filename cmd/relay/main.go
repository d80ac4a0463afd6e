package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/castrelay/castrelay/internal/auth"
	"github.com/castrelay/castrelay/internal/common"
	"github.com/castrelay/castrelay/internal/relay"
	"github.com/castrelay/castrelay/internal/storage"
	"github.com/castrelay/castrelay/internal/upload"
	"github.com/castrelay/castrelay/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting CastRelay service")

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize cache
	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	// Initialize staging storage
	blobStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Initialize the upload client for the remote video host
	uploadClient := upload.NewClient(upload.ClientConfig{
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Upload.RequestTimeout,
			},
		},
		InitiateURL:  cfg.Upload.InitiateURL,
		StatusURL:    cfg.Upload.StatusURL,
		ChunkSize:    cfg.Upload.ChunkSize,
		PollInterval: cfg.Upload.PollInterval,
		BackoffMin:   cfg.Upload.BackoffMin,
		BackoffMax:   cfg.Upload.BackoffMax,
	})

	// Initialize services
	authService := auth.NewService(db, cache, &cfg.Auth)
	relayService := relay.NewService(db, cache, blobStorage, uploadClient, cfg.Upload.DefaultCategory)

	// Setup HTTP server
	router := setupRouter(authService, relayService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}

	// cancel in-flight upload jobs and wait for them to clean up
	if err := relayService.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Upload jobs did not stop in time")
	} else {
		log.Info().Msg("Upload jobs stopped")
	}
}

func setupRouter(authService *auth.Service, relayService *relay.Service) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "castrelay",
			"time":    time.Now().UTC(),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	{
		// Authentication routes
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handleRegister(authService))
			authRoutes.POST("/login", handleLogin(authService))
			authRoutes.POST("/api-keys", authMiddleware(authService), handleCreateAPIKey(authService))
			authRoutes.GET("/api-keys", authMiddleware(authService), handleListAPIKeys(authService))
			authRoutes.DELETE("/api-keys/:id", authMiddleware(authService), handleRevokeAPIKey(authService))
		}

		// Video relay routes
		videos := api.Group("/videos")
		videos.Use(authMiddleware(authService))
		{
			videos.POST("", handleSubmitVideo(relayService))
			videos.GET("", handleListVideos(relayService))
			videos.GET("/:id", handleGetVideo(relayService))
			videos.DELETE("/:id", handleCancelVideo(relayService))
		}

		// Embed classification is read-only and needs no account
		api.GET("/embed", handleClassifyEmbed())
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Host-Token, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
