package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/sta-electricity/outagesync/internal/config"
	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/handlers"
	"github.com/sta-electricity/outagesync/internal/middleware"
	"github.com/sta-electricity/outagesync/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Starting outagesync API...")

	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}
	cfg.ResolveJWTSecret()

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		Secret:            cfg.JWTSecret,
		Expiry:            time.Duration(cfg.JWTExpiryHours) * time.Hour,
		SkipPaths: []string{
			"/health",
			"/auth/login",
		},
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	if err := database.Connect(cfg.DatabaseURL, logger.Warn, cfg.LockTimeout()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established (lock timeout %v)", cfg.LockTimeout())

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	if err := database.InitializeDefaults(); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	db := database.GetDB()

	if cfg.TopologySeedFile != "" {
		n, err := database.LoadTopologySeed(db, cfg.TopologySeedFile)
		if err != nil {
			log.Fatalf("Failed to load topology seed: %v", err)
		}
		log.Printf("Topology seed loaded: %d elements from %s", n, cfg.TopologySeedFile)
	}

	procedures, err := services.NewIncidentProcedures(db, cfg.SyncProcedures)
	if err != nil {
		log.Fatalf("Failed to initialize incident procedures: %v", err)
	}
	log.Printf("Incident procedures: %T", procedures)

	syncService := services.NewSyncService(db, procedures, services.NewDetailBackfiller(db, services.NewNetworkElementMatcher()))
	generator := services.NewIncidentGenerator(db)
	ignoredService := services.NewIgnoredOutageService(db)
	elementService := services.NewNetworkElementService(db)

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(db).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuthMiddleware).SetupRoutes(mux)
	handlers.NewAPIHandler(syncService, generator, ignoredService, elementService).SetupRoutes(mux)

	// Request id first so auth failures carry it, CORS before auth for preflight.
	handler := middleware.RequestIDMiddleware(
		middleware.NewCORSMiddleware().Wrap(
			jwtAuthMiddleware.Wrap(mux)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, draining requests...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Println("Shutdown complete")
}
