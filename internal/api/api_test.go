package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	backend "lab-console/internal/api"
	"lab-console/internal/database"
	"lab-console/internal/messaging"
	"lab-console/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func newTestServer(t *testing.T) *testServer {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	service := backend.NewBackendService(db, queue)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return &testServer{db: db, queue: queue, router: router}
}

// do sends a request and decodes a 200 response into dest. It returns the
// status code.
func (s *testServer) do(t *testing.T, method, endpoint string, payload any, dest any) int {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK && dest != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
	}
	return rec.Code
}

func (s *testServer) createExperiment(t *testing.T) uuid.UUID {
	var res api.CreateExperimentResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/experiments", api.CreateExperimentRequest{Name: "exp"}, &res))
	return res.Id
}

func (s *testServer) nextTask(t *testing.T) messaging.Task {
	select {
	case task := <-s.queue.Tasks():
		return task
	default:
		t.Fatal("expected a published task")
		return nil
	}
}

func TestCreateAndListJobs(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)

	var created api.CreateJobResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId,
		Type:         api.JobEval,
		Status:       api.JobQueued,
		Data:         map[string]any{"plugin": "exact_match", "evaluator": "accuracy"},
	}, &created))

	task := s.nextTask(t)
	assert.Equal(t, messaging.JobQueue, task.Type())
	var payload messaging.JobTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, created.Id, payload.JobId)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId,
		Type:         api.JobTrain,
		Status:       api.JobComplete,
	}, nil))
	select {
	case <-s.queue.Tasks():
		t.Fatal("only queued jobs are dispatched")
	default:
	}

	var evalJobs []api.Job
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/jobs?type=EVAL", nil, &evalJobs))
	require.Len(t, evalJobs, 1)
	assert.Equal(t, created.Id, evalJobs[0].Id)
	assert.Equal(t, api.JobQueued, evalJobs[0].Status)
	assert.False(t, evalJobs[0].Progress.Known())

	data, err := api.DecodeJobData[api.EvalJobData](evalJobs[0])
	require.NoError(t, err)
	assert.Equal(t, api.EvalJobData{Plugin: "exact_match", Evaluator: "accuracy"}, data)

	var all []api.Job
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &all))
	assert.Len(t, all, 2)

	var complete []api.Job
	filter := url.QueryEscape(`status = "COMPLETE" OR type = "GENERATE"`)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/jobs?filter="+filter, nil, &complete))
	require.Len(t, complete, 1)
	assert.Equal(t, api.JobTrain, complete[0].Type)

	var job api.Job
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+created.Id.String(), nil, &job))
	assert.Equal(t, expId, job.ExperimentId)
}

func TestCreateJobErrors(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId, Type: "BAKE",
	}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId, Type: api.JobEval, Status: "PAUSED",
	}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: uuid.New(), Type: api.JobEval,
	}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs?filter="+url.QueryEscape(`owner = "me"`), nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/jobs/"+uuid.New().String(), nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs/not-a-uuid", nil, nil))
}

func TestStopJob(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)

	var queued api.CreateJobResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId, Type: api.JobEval,
	}, &queued))

	var running api.CreateJobResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
		ExperimentId: expId, Type: api.JobTrain, Status: api.JobRunning,
	}, &running))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs/"+queued.Id.String()+"/stop", nil, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs/"+running.Id.String()+"/stop", nil, nil))

	var job api.Job
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+queued.Id.String(), nil, &job))
	assert.Equal(t, api.JobStopped, job.Status)

	var stored database.Job
	require.NoError(t, s.db.First(&stored, "id = ?", running.Id).Error)
	assert.Equal(t, database.JobRunning, stored.Status)
	assert.True(t, stored.StopRequested)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/jobs/"+uuid.New().String()+"/stop", nil, nil))
}

const linearConfig = `{"nodes":[{"id":"load","kind":"load_model","out":[{"to":"eval"}]},{"id":"eval","kind":"eval"}]}`

func TestWorkflowEndpoints(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)
	otherExp := s.createExperiment(t)

	var created api.CreateWorkflowResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		ExperimentId: expId, Name: "pipeline", Config: linearConfig,
	}, &created))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		ExperimentId: otherExp, Name: "other",
	}, nil))

	var listed []api.Workflow
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows?experiment_id="+expId.String(), nil, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "pipeline", listed[0].Name)
	assert.Equal(t, api.WorkflowIdle, listed[0].Status)
	assert.Len(t, listed[0].Nodes(), 2)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows", nil, &listed))
	assert.Len(t, listed, 2)

	path := "/workflows/" + created.Id.String()
	cyclic := `{"nodes":[{"id":"a","kind":"eval","out":[{"to":"b"}]},{"id":"b","kind":"eval","out":[{"to":"a"}]}]}`
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPut, path+"/config", api.UpdateWorkflowConfigRequest{Config: cyclic}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPut, path+"/config", api.UpdateWorkflowConfigRequest{Config: "not json"}, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/run", nil, nil))

	task := s.nextTask(t)
	assert.Equal(t, messaging.WorkflowQueue, task.Type())
	var payload messaging.WorkflowRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, created.Id, payload.WorkflowId)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/workflows?experiment_id="+expId.String(), nil, &listed))
	assert.Equal(t, api.WorkflowRunning, listed[0].Status)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/run", nil, nil))
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPut, path+"/config", api.UpdateWorkflowConfigRequest{Config: linearConfig}, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, path+"/run", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, path+"/config", api.UpdateWorkflowConfigRequest{Config: linearConfig}, nil))
}

func TestCreateWorkflowErrors(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		ExperimentId: expId, Name: " ",
	}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		ExperimentId: expId, Name: "bad", Config: `{"nodes":[{"id":"a","kind":"eval","out":[{"to":"missing"}]}]}`,
	}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/workflows", api.CreateWorkflowRequest{
		ExperimentId: uuid.New(), Name: "orphan",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/workflows?experiment_id=nope", nil, nil))
}

func TestExperimentConfigAndEvalDelete(t *testing.T) {
	s := newTestServer(t)
	expId := s.createExperiment(t)
	path := "/experiments/" + expId.String()

	evaluations := `[{"name":"acc","plugin":"exact_match"},{"name":"tox","plugin":"toxicity"}]`
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, path+"/config", api.SetConfigRequest{
		Key: api.EvaluationsConfigKey, Value: evaluations,
	}, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, path+"/config", api.SetConfigRequest{
		Key: "model", Value: "llama",
	}, nil))

	var exp api.Experiment
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, nil, &exp))
	assert.Equal(t, "exp", exp.Name)
	assert.Equal(t, "llama", exp.Config["model"])
	assert.JSONEq(t, evaluations, exp.Config[api.EvaluationsConfigKey])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path+"/evals/acc", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path+"/evals/acc", nil, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, nil, &exp))
	assert.JSONEq(t, `[{"name":"tox","plugin":"toxicity"}]`, exp.Config[api.EvaluationsConfigKey])

	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPut, path+"/config", api.SetConfigRequest{Key: ""}, nil))

	missing := "/experiments/" + uuid.New().String()
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, missing, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, missing+"/config", api.SetConfigRequest{Key: "k", Value: "v"}, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, missing+"/evals/acc", nil, nil))
}

func TestGlobalConfig(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/config/theme", nil, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/config/theme", api.SetConfigRequest{Value: "dark"}, nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/config/theme", api.SetConfigRequest{Value: "light"}, nil))

	var value api.ConfigValue
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/config/theme", nil, &value))
	assert.Equal(t, api.ConfigValue{Key: "theme", Value: "light"}, value)
}
