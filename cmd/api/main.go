package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixaworks/renderer/internal/api"
	"github.com/pixaworks/renderer/internal/config"
	"github.com/pixaworks/renderer/internal/db"
	"github.com/pixaworks/renderer/internal/services"
	"github.com/pixaworks/renderer/internal/worker"
)

func main() {
	log.Println("Starting render service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	if err := database.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Create API handler
	handler := api.NewHandler(database)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start the render scheduler if enabled
	var schedulerCancel context.CancelFunc
	if cfg.RenderEnabled {
		log.Println("Rendering enabled, starting scheduler...")

		ffmpegSvc := services.NewFFmpegService(cfg.OutputDir, cfg.ThumbnailDir)
		uploadClient := services.NewUploadClient(cfg.UploadURL, cfg.UploadSecret)
		renderer := worker.NewRenderer(database, ffmpegSvc, uploadClient, cfg.OutputDir, cfg.ThumbnailDir)
		scheduler := worker.NewScheduler(database, renderer, cfg.RenderCron, cfg.StuckJobThreshold)

		var schedulerCtx context.Context
		schedulerCtx, schedulerCancel = context.WithCancel(context.Background())
		go func() {
			if err := scheduler.Start(schedulerCtx); err != nil {
				log.Printf("Scheduler stopped with error: %v", err)
			}
		}()
	} else {
		log.Println("Rendering disabled — serving API only")
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if schedulerCancel != nil {
		schedulerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
