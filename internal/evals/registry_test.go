package evals_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"lab-console/internal/evals"
	"lab-console/internal/labclient"
	"lab-console/internal/reconcile"
	"lab-console/internal/validation"
	"lab-console/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	experiments map[uuid.UUID]api.Experiment
	jobs        []api.CreateJobRequest
	jobIds      []uuid.UUID
	gets        int
	failCreate  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{experiments: make(map[uuid.UUID]api.Experiment)}
}

func (f *fakeBackend) addExperiment(evaluations string) uuid.UUID {
	id := uuid.New()
	f.experiments[id] = api.Experiment{
		Id:     id,
		Name:   "exp",
		Config: api.ExperimentConfig{api.EvaluationsConfigKey: evaluations},
	}
	return id
}

func notFound(path string) error {
	return &labclient.StatusError{Method: http.MethodGet, Path: path, Code: http.StatusNotFound}
}

func (f *fakeBackend) GetExperiment(ctx context.Context, id uuid.UUID) (api.Experiment, error) {
	f.gets++
	exp, ok := f.experiments[id]
	if !ok {
		return api.Experiment{}, notFound("/experiments/" + id.String())
	}
	return exp, nil
}

func (f *fakeBackend) SetExperimentConfig(ctx context.Context, id uuid.UUID, key, value string) error {
	exp, ok := f.experiments[id]
	if !ok {
		return notFound("/experiments/" + id.String())
	}
	exp.Config[key] = value
	return nil
}

func (f *fakeBackend) CreateJob(ctx context.Context, req api.CreateJobRequest) (uuid.UUID, error) {
	if f.failCreate {
		return uuid.Nil, fmt.Errorf("%w: connection refused", labclient.ErrTransport)
	}
	id := uuid.New()
	f.jobs = append(f.jobs, req)
	f.jobIds = append(f.jobIds, id)
	return id, nil
}

func (f *fakeBackend) DeleteEval(ctx context.Context, id uuid.UUID, name string) error {
	exp, ok := f.experiments[id]
	if !ok {
		return notFound("/experiments/" + id.String())
	}
	tasks := evals.DecodeTasks(exp.Config[api.EvaluationsConfigKey])
	kept := make([]api.EvaluationTask, 0, len(tasks))
	found := false
	for _, task := range tasks {
		if task.Name == name {
			found = true
			continue
		}
		kept = append(kept, task)
	}
	if !found {
		return notFound("/evals/" + name)
	}
	raw, err := evals.EncodeTasks(kept)
	if err != nil {
		return err
	}
	exp.Config[api.EvaluationsConfigKey] = raw
	return nil
}

type countingRevalidator struct {
	calls int
}

func (c *countingRevalidator) Name() string { return "jobs" }

func (c *countingRevalidator) Revalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func TestDecodeTasks(t *testing.T) {
	assert.Empty(t, evals.DecodeTasks("not json"))
	assert.NotNil(t, evals.DecodeTasks("not json"))
	assert.Empty(t, evals.DecodeTasks(""))
	assert.Empty(t, evals.DecodeTasks("null"))
	assert.Empty(t, evals.DecodeTasks(`{"name": "acc"}`))

	tasks := evals.DecodeTasks(`[{"name":"acc","plugin":"llm-judge","script_parameters":{"threshold":0.5}}]`)
	require.Len(t, tasks, 1)
	assert.Equal(t, "acc", tasks[0].Name)
	assert.Equal(t, "llm-judge", tasks[0].Plugin)
	assert.Equal(t, 0.5, tasks[0].ScriptParameters["threshold"])
}

func TestListReadsEvaluationsKey(t *testing.T) {
	cfg := api.ExperimentConfig{
		api.EvaluationsConfigKey: `[{"name":"a","plugin":"p"},{"name":"b","plugin":"p"}]`,
		"foundation":             "llama",
	}
	tasks := evals.List(cfg)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].Name)
	assert.Equal(t, "b", tasks[1].Name)

	assert.Empty(t, evals.List(api.ExperimentConfig{}))
}

func TestQueueCreatesEvalJob(t *testing.T) {
	backend := newFakeBackend()
	expId := backend.addExperiment(`[{"name":"acc","plugin":"llm-judge"}]`)
	jobs := &countingRevalidator{}
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), jobs)

	job, err := registry.Queue(context.Background(), expId, "llm-judge", "acc")
	require.NoError(t, err)

	assert.Equal(t, api.JobEval, job.Type)
	assert.Equal(t, api.JobQueued, job.Status)
	assert.Equal(t, map[string]any{"plugin": "llm-judge", "evaluator": "acc"}, job.JobData)
	assert.Equal(t, backend.jobIds[0], job.Id)
	assert.Equal(t, 1, jobs.calls)

	require.Len(t, backend.jobs, 1)
	assert.Equal(t, expId, backend.jobs[0].ExperimentId)
	assert.Equal(t, api.JobEval, backend.jobs[0].Type)
	assert.Equal(t, api.JobQueued, backend.jobs[0].Status)

	data, err := api.DecodeJobData[api.EvalJobData](job)
	require.NoError(t, err)
	assert.Equal(t, api.EvalJobData{Plugin: "llm-judge", Evaluator: "acc"}, data)
}

func TestQueueTwiceCreatesTwoJobs(t *testing.T) {
	backend := newFakeBackend()
	expId := backend.addExperiment(`[{"name":"acc","plugin":"llm-judge"}]`)
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	first, err := registry.Queue(context.Background(), expId, "llm-judge", "acc")
	require.NoError(t, err)
	second, err := registry.Queue(context.Background(), expId, "llm-judge", "acc")
	require.NoError(t, err)

	assert.NotEqual(t, first.Id, second.Id)
	assert.Len(t, backend.jobs, 2)
}

func TestQueueSurfacesTransportError(t *testing.T) {
	backend := newFakeBackend()
	backend.failCreate = true
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	_, err := registry.Queue(context.Background(), uuid.New(), "llm-judge", "acc")
	assert.ErrorIs(t, err, labclient.ErrTransport)
}

func TestAddRejectsDuplicates(t *testing.T) {
	backend := newFakeBackend()
	raw := `[{"name":"acc","plugin":"llm-judge"}]`
	expId := backend.addExperiment(raw)
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	err := registry.Add(context.Background(), expId, api.EvaluationTask{Name: "acc", Plugin: "other"})
	assert.True(t, validation.Is(err))
	assert.Equal(t, raw, backend.experiments[expId].Config[api.EvaluationsConfigKey])

	err = registry.Add(context.Background(), expId, api.EvaluationTask{Name: "", Plugin: "other"})
	assert.True(t, validation.Is(err))

	err = registry.Add(context.Background(), expId, api.EvaluationTask{Name: "f1", Plugin: "basic"})
	require.NoError(t, err)

	tasks := registry.Resource(expId).Items()
	require.Len(t, tasks, 2)
	assert.Equal(t, "f1", tasks[1].Name)
}

func TestRemoveRederivesFromServer(t *testing.T) {
	backend := newFakeBackend()
	expId := backend.addExperiment(`[{"name":"a","plugin":"p"},{"name":"b","plugin":"p"}]`)
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	tasks, err := registry.Tasks(context.Background(), expId)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	require.NoError(t, registry.Remove(context.Background(), expId, "a"))
	tasks = registry.Resource(expId).Items()
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].Name)

	// Second delete of the same task is a no-op once revalidated.
	require.NoError(t, registry.Remove(context.Background(), expId, "a"))
	assert.Len(t, registry.Resource(expId).Items(), 1)
}

func TestTasksDegradeOnCorruptConfig(t *testing.T) {
	backend := newFakeBackend()
	expId := backend.addExperiment("not json")
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	tasks, err := registry.Tasks(context.Background(), expId)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTasksSurfaceMissingExperiment(t *testing.T) {
	backend := newFakeBackend()
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	_, err := registry.Tasks(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, labclient.ErrNotFound))
}

func TestAddLeavesUnreadableListUntouched(t *testing.T) {
	backend := newFakeBackend()
	raw := `[{"name":"acc","plugin":"llm-judge"},`
	expId := backend.addExperiment(raw)
	registry := evals.NewRegistry(backend, reconcile.NewCoordinator(0), nil)

	err := registry.Add(context.Background(), expId, api.EvaluationTask{Name: "f1", Plugin: "other"})
	assert.True(t, validation.Is(err))
	assert.Equal(t, raw, backend.experiments[expId].Config[api.EvaluationsConfigKey])

	tasks, err := registry.Tasks(context.Background(), expId)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestParseTasks(t *testing.T) {
	tasks, err := evals.ParseTasks("")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = evals.ParseTasks("null")
	require.NoError(t, err)
	assert.NotNil(t, tasks)

	_, err = evals.ParseTasks(`{"name": "acc"}`)
	assert.Error(t, err)
}
