package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"lab-console/internal/database"
	"lab-console/internal/messaging"
	"lab-console/internal/workflows"
	"lab-console/pkg/api"

	"gorm.io/gorm"
)

type TaskProcessor struct {
	db       *gorm.DB
	receiver messaging.Receiver
	executor Executor
}

func NewTaskProcessor(db *gorm.DB, receiver messaging.Receiver, executor Executor) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		receiver: receiver,
		executor: executor,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.JobQueue:
		var payload messaging.JobTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling job task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processJobTask(ctx, payload)

	case messaging.WorkflowQueue:
		var payload messaging.WorkflowRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling workflow run", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processWorkflowRun(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processJobTask(ctx context.Context, payload messaging.JobTaskPayload) error {
	jobId := payload.JobId

	var job database.Job
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("job no longer exists, skipping", "job_id", jobId)
			return nil
		}
		return fmt.Errorf("error getting job: %w", err)
	}

	if job.Status != database.JobQueued {
		slog.Info("job is not queued, skipping", "job_id", jobId, "status", job.Status)
		return nil
	}

	slog.Info("processing job", "job_id", jobId, "type", job.Type)

	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobRunning); err != nil {
		return fmt.Errorf("error marking job running: %w", err)
	}

	report := func(progress float64) error {
		if err := database.CheckJobStop(ctx, proc.db, jobId); err != nil {
			return err
		}
		return database.UpdateJobProgress(ctx, proc.db, jobId, progress)
	}

	err := proc.executor.RunJob(ctx, job, report)
	if err == nil {
		err = database.CheckJobStop(ctx, proc.db, jobId)
	}

	switch {
	case errors.Is(err, database.ErrStopRequested):
		slog.Info("job stopped", "job_id", jobId)
		return database.UpdateJobStatus(ctx, proc.db, jobId, database.JobStopped)
	case err != nil:
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		return fmt.Errorf("job %v failed: %w", jobId, err)
	}

	slog.Info("job complete", "job_id", jobId)
	return database.UpdateJobStatus(ctx, proc.db, jobId, database.JobComplete)
}

func (proc *TaskProcessor) processWorkflowRun(ctx context.Context, payload messaging.WorkflowRunPayload) error {
	workflowId := payload.WorkflowId

	var workflow database.Workflow
	if err := proc.db.WithContext(ctx).First(&workflow, "id = ?", workflowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("workflow no longer exists, skipping run", "workflow_id", workflowId)
			return nil
		}
		return fmt.Errorf("error getting workflow: %w", err)
	}

	def := api.Workflow{Config: workflow.Config}.Definition()
	order, err := workflows.TopologicalOrder(def)
	if err != nil {
		if err := database.UpdateWorkflowStatus(ctx, proc.db, workflowId, database.WorkflowFailed, ""); err != nil {
			return err
		}
		return fmt.Errorf("workflow %v cannot run: %w", workflowId, err)
	}

	nodes := make(map[string]api.WorkflowNode, len(def.Nodes))
	for _, node := range def.Nodes {
		nodes[node.Id] = node
	}

	slog.Info("running workflow", "workflow_id", workflowId, "nodes", len(order))

	for _, nodeId := range order {
		if err := proc.db.WithContext(ctx).Select("id").First(&database.Workflow{}, "id = ?", workflowId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				slog.Info("workflow deleted during run", "workflow_id", workflowId)
				return nil
			}
			return fmt.Errorf("error getting workflow: %w", err)
		}

		if err := database.UpdateWorkflowStatus(ctx, proc.db, workflowId, database.WorkflowRunning, nodeId); err != nil {
			return err
		}

		if err := proc.executor.RunNode(ctx, workflow, nodes[nodeId]); err != nil {
			if err := database.UpdateWorkflowStatus(ctx, proc.db, workflowId, database.WorkflowFailed, nodeId); err != nil {
				return err
			}
			return fmt.Errorf("workflow %v failed at node %s: %w", workflowId, nodeId, err)
		}
	}

	slog.Info("workflow run finished", "workflow_id", workflowId)
	return database.UpdateWorkflowStatus(ctx, proc.db, workflowId, database.WorkflowIdle, "")
}
