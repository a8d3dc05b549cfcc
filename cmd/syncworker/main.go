package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sta-electricity/outagesync/internal/client"
	"github.com/sta-electricity/outagesync/internal/config"
	"github.com/sta-electricity/outagesync/internal/jobs"
)

func main() {
	logger := log.New(os.Stdout, "[syncworker] ", log.LstdFlags|log.Lshortfile)
	log.SetOutput(os.Stdout)
	log.SetPrefix("[syncworker] ")

	if err := godotenv.Load(); err != nil {
		logger.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	apiClient := client.New(cfg.SyncAPIURL, cfg.SyncHTTPTimeout())
	if cfg.SyncAPIUsername != "" {
		apiClient.WithCredentials(cfg.SyncAPIUsername, cfg.SyncAPIPassword)
	}

	orchestrator := jobs.NewSyncOrchestrator(apiClient, jobs.DefaultOrchestratorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown requested, waiting for in-flight calls...")
		cancel()
		<-sigChan
		logger.Println("Second signal, exiting immediately")
		os.Exit(1)
	}()

	if cfg.SyncAPIUsername != "" {
		if err := apiClient.Login(ctx); err != nil {
			// Not fatal: the API may still be starting. Calls re-login on 401.
			logger.Printf("Initial login failed: %v", err)
		}
	}

	logger.Printf("Driving %s", cfg.SyncAPIURL)
	orchestrator.Run(ctx)
	logger.Println("Stopped")
}
