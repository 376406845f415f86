package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"notifcast/internal/api"
	"notifcast/internal/auth"
	"notifcast/internal/config"
	"notifcast/internal/messaging"
	"notifcast/internal/metrics"
	"notifcast/internal/registry"
	"notifcast/internal/scheduler"
	"notifcast/internal/storage"
)

func main() {
	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded")

	// Setup JWT Secret
	auth.SetSecret(cfg.Auth.JWTSecret)

	// Init PostgreSQL
	db, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.DB.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}
	log.Println("PostgreSQL connected")

	// Init RabbitMQ
	rabbitClient, err := messaging.NewRabbitClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rabbitClient.Close()
	log.Println("RabbitMQ connected")

	// Init Binding Registry
	reg := registry.New(rabbitClient)

	// Re-bind queues for devices registered before this process started.
	// Declares and binds are idempotent, so this is safe on every boot.
	rows, err := db.DB.Query(`SELECT queue_id, device_class FROM registrations`)
	if err != nil {
		log.Fatalf("Failed to load registrations: %v", err)
	}
	for rows.Next() {
		var queueID uuid.UUID
		var deviceClass string
		if err := rows.Scan(&queueID, &deviceClass); err != nil {
			log.Fatalf("Failed to scan registration: %v", err)
		}
		if err := reg.Bind(queueID, deviceClass); err != nil {
			log.Printf("Failed to re-bind device %s: %v", queueID, err)
			continue
		}
	}
	rows.Close()

	// Start background loop for updating queue depth metrics
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			for _, id := range reg.ListDeviceIDs() {
				rabbitClient.UpdateQueueDepth(messaging.QueueName(id.String()))
			}
		}
	}()

	// Start Dispatch Scheduler
	sched := scheduler.New(db, rabbitClient, cfg.Scheduler.Interval.Std(), cfg.Scheduler.Parallelism)
	sched.Start()

	// Init API
	apiHandler := api.NewAPI(db, reg, rabbitClient, cfg)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: apiHandler.Router(),
	}

	// Graceful Shutdown Setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting API server on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	log.Println("Shutdown initiated...")

	// Shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Stop the dispatcher; an in-flight cycle finishes first
	sched.Stop()

	log.Println("Graceful shutdown complete")
}
