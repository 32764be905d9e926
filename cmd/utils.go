package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"lab-console/internal/config"
	"lab-console/internal/database"
	"lab-console/internal/messaging"

	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if err := config.LoadEnvFile(configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

// CreateMessaging connects to RabbitMQ when a url is configured and falls
// back to a single in-process queue otherwise.
func CreateMessaging(cfg config.WorkerConfig) (messaging.Publisher, messaging.Receiver, bool) {
	if cfg.RabbitMQURL == "" {
		slog.Info("RABBITMQ_URL not set, using in-process queue")
		queue := messaging.NewInMemoryQueue()
		return queue, queue, true
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to create receiver: %v", err)
	}

	return publisher, receiver, false
}

// RequeuePending republishes the work an in-process queue lost when the
// previous process exited. Queued jobs and running workflows are sent again;
// jobs that were running are marked failed since their progress is gone.
func RequeuePending(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	var interrupted []database.Job
	if err := db.WithContext(ctx).Where("status = ?", database.JobRunning).Find(&interrupted).Error; err != nil {
		return fmt.Errorf("error fetching running jobs: %w", err)
	}
	for _, job := range interrupted {
		database.SaveJobError(ctx, db, job.Id, "job was interrupted by a backend restart")
	}

	var queued []database.Job
	if err := db.WithContext(ctx).Where("status = ?", database.JobQueued).Order("creation_time").Find(&queued).Error; err != nil {
		return fmt.Errorf("error fetching queued jobs: %w", err)
	}

	var running []database.Workflow
	if err := db.WithContext(ctx).Where("status = ?", database.WorkflowRunning).Find(&running).Error; err != nil {
		return fmt.Errorf("error fetching running workflows: %w", err)
	}

	for _, job := range queued {
		if err := publisher.PublishJobTask(ctx, messaging.JobTaskPayload{JobId: job.Id, Type: job.Type}); err != nil {
			return fmt.Errorf("error publishing job %v: %w", job.Id, err)
		}
	}

	for _, wf := range running {
		if err := publisher.PublishWorkflowRun(ctx, messaging.WorkflowRunPayload{WorkflowId: wf.Id}); err != nil {
			return fmt.Errorf("error publishing workflow %v: %w", wf.Id, err)
		}
	}

	slog.Info("requeued pending work", "jobs", len(queued), "workflows", len(running), "interrupted", len(interrupted))
	return nil
}
