package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Render scheduler
	RenderEnabled     bool
	RenderCron        string        // cron expression driving the claim-and-render cycle
	StuckJobThreshold time.Duration // rendering jobs older than this are force-failed

	// Upload gateway
	UploadURL    string
	UploadSecret string

	// Local scratch space
	OutputDir    string
	ThumbnailDir string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "4000"),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RenderEnabled:      getEnvBool("RENDER_ENABLED", true),
		RenderCron:         getEnv("RENDER_CRON", "*/1 * * * *"),
		StuckJobThreshold:  getEnvDuration("STUCK_JOB_THRESHOLD", time.Hour),
		UploadURL:          getEnv("UPLOAD_URL", ""),
		UploadSecret:       getEnv("UPLOAD_SECRET", ""),
		OutputDir:          getEnv("OUTPUT_DIR", "outputs"),
		ThumbnailDir:       getEnv("THUMBNAIL_DIR", "thumbnails"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RenderEnabled && cfg.UploadURL == "" {
		return nil, fmt.Errorf("UPLOAD_URL is required when rendering is enabled")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
