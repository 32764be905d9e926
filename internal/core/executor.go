package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"lab-console/internal/database"
	"lab-console/pkg/api"
)

// ProgressFunc records progress for the running job. It returns
// database.ErrStopRequested once the job should stop.
type ProgressFunc func(progress float64) error

type Executor interface {
	RunJob(ctx context.Context, job database.Job, report ProgressFunc) error

	RunNode(ctx context.Context, workflow database.Workflow, node api.WorkflowNode) error
}

// SimulatedExecutor stands in for plugin execution. It advances a job through
// a fixed number of progress steps. Jobs whose data sets "simulate_failure"
// and nodes whose parameters do fail instead.
type SimulatedExecutor struct {
	Steps     int
	StepDelay time.Duration
}

func NewSimulatedExecutor(steps int, stepDelay time.Duration) *SimulatedExecutor {
	if steps < 1 {
		steps = 1
	}
	return &SimulatedExecutor{Steps: steps, StepDelay: stepDelay}
}

func (e *SimulatedExecutor) wait(ctx context.Context) error {
	if e.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *SimulatedExecutor) RunJob(ctx context.Context, job database.Job, report ProgressFunc) error {
	var data map[string]any
	if len(job.Data) > 0 {
		if err := json.Unmarshal(job.Data, &data); err != nil {
			slog.Warn("job data is not an object", "job_id", job.Id, "error", err)
		}
	}

	for step := 1; step <= e.Steps; step++ {
		if err := e.wait(ctx); err != nil {
			return err
		}

		if fail, _ := data["simulate_failure"].(bool); fail && step == e.Steps {
			return fmt.Errorf("%s job failed at step %d", job.Type, step)
		}

		// The final step is recorded by the COMPLETE transition.
		if step < e.Steps {
			if err := report(float64(step) * 100 / float64(e.Steps)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *SimulatedExecutor) RunNode(ctx context.Context, workflow database.Workflow, node api.WorkflowNode) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if fail, _ := node.Parameters["simulate_failure"].(bool); fail {
		return fmt.Errorf("node %s (%s) of workflow %v failed", node.Id, node.Kind, workflow.Id)
	}
	return nil
}
