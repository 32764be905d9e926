package labclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "lab-console/internal/api"
	"lab-console/internal/database"
	"lab-console/internal/labclient"
	"lab-console/internal/messaging"
	"lab-console/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBackend(t *testing.T) *labclient.Client {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		backend.NewBackendService(db, queue).AddRoutes(r)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return labclient.New(server.URL+"/api/v1/", 5*time.Second)
}

func TestClientRoundTrip(t *testing.T) {
	client := startBackend(t)
	ctx := context.Background()

	expId, err := client.CreateExperiment(ctx, "exp")
	require.NoError(t, err)

	require.NoError(t, client.SetExperimentConfig(ctx, expId, api.EvaluationsConfigKey, `[{"name":"acc","plugin":"exact_match"}]`))
	exp, err := client.GetExperiment(ctx, expId)
	require.NoError(t, err)
	assert.Equal(t, "exp", exp.Name)
	assert.Contains(t, exp.Config, api.EvaluationsConfigKey)

	jobId, err := client.CreateJob(ctx, api.CreateJobRequest{
		ExperimentId: expId,
		Type:         api.JobEval,
		Status:       api.JobQueued,
		Data:         map[string]any{"plugin": "exact_match"},
	})
	require.NoError(t, err)

	jobs, err := client.ListJobs(ctx, string(api.JobEval), "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobId, jobs[0].Id)

	jobs, err = client.ListJobs(ctx, "", `status = "RUNNING"`)
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)

	require.NoError(t, client.StopJob(ctx, jobId))
	job, err := client.GetJob(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, api.JobStopped, job.Status)

	wfId, err := client.CreateWorkflow(ctx, api.CreateWorkflowRequest{ExperimentId: expId, Name: "wf"})
	require.NoError(t, err)
	require.NoError(t, client.UpdateWorkflowConfig(ctx, wfId, `{"nodes":[{"id":"a","kind":"eval"}]}`))
	require.NoError(t, client.RunWorkflow(ctx, wfId))

	workflows, err := client.ListWorkflows(ctx, expId)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, api.WorkflowRunning, workflows[0].Status)

	require.NoError(t, client.DeleteWorkflow(ctx, wfId))
	require.NoError(t, client.DeleteEval(ctx, expId, "acc"))

	require.NoError(t, client.SetConfig(ctx, "theme", "dark"))
	value, err := client.GetConfig(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", value)
}

func TestClientErrors(t *testing.T) {
	client := startBackend(t)
	ctx := context.Background()

	_, err := client.GetJob(ctx, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, labclient.ErrNotFound)
	assert.True(t, labclient.IsConflict(err))

	var statusErr *labclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, statusErr.Body, "job not found")

	_, err = client.ListJobs(ctx, "", `owner = "me"`)
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.False(t, labclient.IsConflict(err))

	err = client.DeleteWorkflow(ctx, uuid.New())
	assert.True(t, labclient.IsConflict(err))
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := labclient.New(url, time.Second)
	_, err := client.ListJobs(context.Background(), "", "")
	assert.ErrorIs(t, err, labclient.ErrTransport)
	assert.False(t, labclient.IsConflict(err))
}

func TestClientMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 12`))
	}))
	t.Cleanup(server.Close)

	client := labclient.New(server.URL, time.Second)
	_, err := client.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, labclient.ErrMalformedResponse)
}
