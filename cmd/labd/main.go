package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lab-console/cmd"
	"lab-console/internal/api"
	"lab-console/internal/config"
	"lab-console/internal/core"
	"lab-console/internal/database"
	"lab-console/internal/messaging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

func createServer(db *gorm.DB, publisher messaging.Publisher, cfg config.ServerConfig) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	apiHandler := api.NewBackendService(db, publisher)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
}

func main() {
	log.Println("Starting lab backend...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.ServerConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	publisher, receiver, inProcess := cmd.CreateMessaging(cfg.WorkerConfig)
	if inProcess && !cfg.EmbeddedWorker {
		log.Fatalf("EMBEDDED_WORKER=false requires RABBITMQ_URL so that a standalone worker can consume tasks")
	}

	var worker *core.TaskProcessor
	if cfg.EmbeddedWorker {
		worker = core.NewTaskProcessor(db, receiver, core.NewSimulatedExecutor(cfg.Steps, cfg.StepDelay))
		slog.Info("starting embedded worker", "steps", cfg.Steps, "step_delay", cfg.StepDelay)
		go worker.Start()
	} else {
		receiver.Close()
	}

	if inProcess {
		if err := cmd.RequeuePending(context.Background(), db, publisher); err != nil {
			log.Fatalf("Failed to requeue pending work: %v", err)
		}
	}

	server := createServer(db, publisher, cfg)

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		publisher.Close()
		if worker != nil {
			slog.Info("shutting down worker")
			worker.Stop()
		}
	}()

	slog.Info("server started", "port", cfg.Port, "rabbitmq", !inProcess, "embedded_worker", cfg.EmbeddedWorker)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
