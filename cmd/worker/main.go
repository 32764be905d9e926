package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lab-console/cmd"
	"lab-console/internal/config"
	"lab-console/internal/core"
	"lab-console/internal/database"
	"lab-console/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.WorkerConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set for a standalone worker")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	executor := core.NewSimulatedExecutor(cfg.Steps, cfg.StepDelay)

	// Each processor gets its own connection so the prefetch limit applies per
	// processor.
	n := max(cfg.Concurrency, 1)
	processors := make([]*core.TaskProcessor, 0, n)
	for i := 0; i < n; i++ {
		receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		proc := core.NewTaskProcessor(db, receiver, executor)
		processors = append(processors, proc)
		go proc.Start()
	}

	slog.Info("worker started, waiting for tasks", "concurrency", len(processors))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping consumers...")
	for _, proc := range processors {
		proc.Stop()
	}

	log.Println("Worker process stopped.")
}
