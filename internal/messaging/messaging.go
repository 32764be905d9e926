package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	JobQueue        = "lab_job_queue"
	WorkflowQueue   = "lab_workflow_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var queues = []string{JobQueue, WorkflowQueue}

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type JobTaskPayload struct {
	JobId uuid.UUID
	Type  string
}

type WorkflowRunPayload struct {
	WorkflowId uuid.UUID
}

type Publisher interface {
	PublishJobTask(ctx context.Context, payload JobTaskPayload) error

	PublishWorkflowRun(ctx context.Context, payload WorkflowRunPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
