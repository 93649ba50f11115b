package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chatflow/signaling/config"
	"chatflow/signaling/db"
	"chatflow/signaling/directory"
	"chatflow/signaling/handlers"
	"chatflow/signaling/middleware"
	"chatflow/signaling/services"
	"chatflow/signaling/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger()

	// Connect to the external user directory
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Presence store: Redis when configured, in-memory otherwise
	var presenceStore services.PresenceStore
	if cfg.RedisURL != "" {
		redisClient, err := services.NewRedisClient(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()
		presenceStore = services.NewRedisPresenceStore(redisClient, 2*cfg.OnlineWindow)
		logger.Info("Using Redis presence store")
	} else {
		presenceStore = services.NewMemoryPresenceStore()
		logger.Info("Using in-memory presence store")
	}

	// Initialize services
	mailbox := services.NewMailbox(cfg.EventTTL, logger)
	presenceService := services.NewPresenceService(presenceStore, cfg.OnlineWindow, logger)

	// Initialize handlers
	signalHandler := handlers.NewSignalHandler(mailbox, logger)
	presenceHandler := handlers.NewPresenceHandler(presenceService, logger)
	usersHandler := handlers.NewUsersHandler(directory.NewStore(database), logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// API routes
	api := router.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret))
	{
		signals := api.Group("/signal")
		{
			signals.POST("/send", signalHandler.Send)
			signals.GET("/poll", signalHandler.Poll)
		}

		presence := api.Group("/presence")
		{
			presence.POST("/heartbeat", presenceHandler.Heartbeat)
			presence.GET("/status", presenceHandler.Status)
		}

		users := api.Group("/users")
		{
			users.POST("/batch", usersHandler.Batch)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Signaling Server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
