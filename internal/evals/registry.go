// Package evals manages the evaluation tasks stored in an experiment's
// configuration and queues them as EVAL jobs.
package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"lab-console/internal/reconcile"
	"lab-console/internal/validation"
	"lab-console/pkg/api"

	"github.com/google/uuid"
)

// ParseTasks parses the serialized task list, failing on malformed input.
// An empty or null value is an empty list.
func ParseTasks(raw string) ([]api.EvaluationTask, error) {
	if strings.TrimSpace(raw) == "" {
		return []api.EvaluationTask{}, nil
	}

	var tasks []api.EvaluationTask
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("error parsing evaluation list: %w", err)
	}
	if tasks == nil {
		return []api.EvaluationTask{}, nil
	}
	return tasks, nil
}

// DecodeTasks parses the serialized task list for display. Malformed input
// is logged and yields an empty list.
func DecodeTasks(raw string) []api.EvaluationTask {
	tasks, err := ParseTasks(raw)
	if err != nil {
		slog.Warn("ignoring malformed evaluation list", "error", err)
		return []api.EvaluationTask{}
	}
	return tasks
}

func EncodeTasks(tasks []api.EvaluationTask) (string, error) {
	if tasks == nil {
		tasks = []api.EvaluationTask{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return "", fmt.Errorf("error encoding evaluation list: %w", err)
	}
	return string(data), nil
}

func List(cfg api.ExperimentConfig) []api.EvaluationTask {
	return DecodeTasks(cfg[api.EvaluationsConfigKey])
}

type Client interface {
	GetExperiment(ctx context.Context, experimentId uuid.UUID) (api.Experiment, error)
	SetExperimentConfig(ctx context.Context, experimentId uuid.UUID, key, value string) error
	CreateJob(ctx context.Context, req api.CreateJobRequest) (uuid.UUID, error)
	DeleteEval(ctx context.Context, experimentId uuid.UUID, name string) error
}

type decoded struct {
	raw   string
	tasks []api.EvaluationTask
}

type Registry struct {
	client Client
	coord  *reconcile.Coordinator
	jobs   reconcile.Revalidator

	mu        sync.Mutex
	resources map[uuid.UUID]*reconcile.Resource[api.EvaluationTask]
	cache     map[uuid.UUID]decoded
}

// NewRegistry creates a registry. jobs, if not nil, is revalidated after
// every queued task so the new job shows up without waiting for a tick.
func NewRegistry(client Client, coord *reconcile.Coordinator, jobs reconcile.Revalidator) *Registry {
	return &Registry{
		client:    client,
		coord:     coord,
		jobs:      jobs,
		resources: make(map[uuid.UUID]*reconcile.Resource[api.EvaluationTask]),
		cache:     make(map[uuid.UUID]decoded),
	}
}

// decode returns the cached decoding of raw, recomputing it only when the
// config string for the experiment changed.
func (r *Registry) decode(experimentId uuid.UUID, raw string) []api.EvaluationTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[experimentId]; ok && c.raw == raw {
		return c.tasks
	}
	tasks := DecodeTasks(raw)
	r.cache[experimentId] = decoded{raw: raw, tasks: tasks}
	return tasks
}

// Resource returns the revalidated task list of an experiment.
func (r *Registry) Resource(experimentId uuid.UUID) *reconcile.Resource[api.EvaluationTask] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resources[experimentId]; ok {
		return res
	}
	res := reconcile.NewResource("evals:"+experimentId.String(), func(ctx context.Context) ([]api.EvaluationTask, error) {
		exp, err := r.client.GetExperiment(ctx, experimentId)
		if err != nil {
			return nil, err
		}
		return r.decode(experimentId, exp.Config[api.EvaluationsConfigKey]), nil
	})
	r.resources[experimentId] = res
	return res
}

func (r *Registry) Tasks(ctx context.Context, experimentId uuid.UUID) ([]api.EvaluationTask, error) {
	snap, _, err := r.Resource(experimentId).Poll(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Items, nil
}

// Add appends a task to the experiment's evaluation list. Empty or duplicate
// names are rejected before anything is written, and so is a stored list
// that does not parse, which is left untouched.
func (r *Registry) Add(ctx context.Context, experimentId uuid.UUID, task api.EvaluationTask) error {
	if strings.TrimSpace(task.Name) == "" {
		return validation.Errorf("name", "evaluation name must not be empty")
	}
	if strings.TrimSpace(task.Plugin) == "" {
		return validation.Errorf("plugin", "evaluation %q has no plugin", task.Name)
	}

	exp, err := r.client.GetExperiment(ctx, experimentId)
	if err != nil {
		return fmt.Errorf("error loading experiment %v: %w", experimentId, err)
	}

	tasks, err := ParseTasks(exp.Config[api.EvaluationsConfigKey])
	if err != nil {
		return validation.Errorf(api.EvaluationsConfigKey, "stored evaluation list of experiment %v is unreadable, fix it before adding tasks: %v", experimentId, err)
	}
	for _, existing := range tasks {
		if existing.Name == task.Name {
			return validation.Errorf("name", "evaluation %q already exists", task.Name)
		}
	}

	raw, err := EncodeTasks(append(tasks, task))
	if err != nil {
		return err
	}

	return r.coord.Mutate(ctx, "add eval", func(ctx context.Context) error {
		return r.client.SetExperimentConfig(ctx, experimentId, api.EvaluationsConfigKey, raw)
	}, r.Resource(experimentId))
}

// Queue submits an EVAL job for the task and returns once the backend has
// accepted it. Queuing the same task twice creates two jobs.
func (r *Registry) Queue(ctx context.Context, experimentId uuid.UUID, pluginId, taskName string) (api.Job, error) {
	data := map[string]any{"plugin": pluginId, "evaluator": taskName}

	id, err := r.client.CreateJob(ctx, api.CreateJobRequest{
		ExperimentId: experimentId,
		Type:         api.JobEval,
		Status:       api.JobQueued,
		Data:         data,
	})
	if err != nil {
		slog.Error("error queueing evaluation", "experiment_id", experimentId, "evaluator", taskName, "error", err)
		return api.Job{}, fmt.Errorf("error queueing evaluation %q: %w", taskName, err)
	}

	if r.jobs != nil {
		_ = r.coord.Revalidate(ctx, r.jobs)
	}

	return api.Job{
		Id:           id,
		ExperimentId: experimentId,
		Type:         api.JobEval,
		Status:       api.JobQueued,
		Progress:     api.IndeterminateProgress(),
		JobData:      data,
	}, nil
}

// Remove deletes a task remotely and re-derives the list from the backend.
// Removing a task that is already gone is not an error.
func (r *Registry) Remove(ctx context.Context, experimentId uuid.UUID, taskName string) error {
	return r.coord.Mutate(ctx, "remove eval", func(ctx context.Context) error {
		return r.client.DeleteEval(ctx, experimentId, taskName)
	}, r.Resource(experimentId))
}
