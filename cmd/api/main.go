package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
	"github.com/wenwu/saas-platform/gamehost-service/internal/db"
	"github.com/wenwu/saas-platform/gamehost-service/internal/http"
	"github.com/wenwu/saas-platform/gamehost-service/internal/provision"
	"github.com/wenwu/saas-platform/gamehost-service/internal/repository"
	"github.com/wenwu/saas-platform/gamehost-service/internal/service"
)

func main() {
	log.Println("Starting Gamehost Service...")

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN(), cfg.Database.Schema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	serverRepo := repository.NewServerRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// Initialize the provisioning engine
	engine := provision.NewOrchestrator(cfg.Provisioning, cfg.Regions, serverRepo)

	// Initialize services
	serverService := service.NewServerService(cfg, engine, serverRepo, logRepo)

	// Initialize HTTP server
	server := http.NewServer(cfg, serverService, logRepo)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	log.Println("Server exited")
}
