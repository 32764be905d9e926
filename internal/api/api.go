package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lab-console/internal/core"
	"lab-console/internal/database"
	"lab-console/internal/evals"
	"lab-console/internal/messaging"
	"lab-console/internal/workflows"
	"lab-console/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher) *BackendService {
	return &BackendService{db: db, publisher: pub}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListJobs))
		r.Post("/", RestHandler(s.CreateJob))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Post("/{job_id}/stop", RestHandler(s.StopJob))
	})

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListWorkflows))
		r.Post("/", RestHandler(s.CreateWorkflow))
		r.Put("/{workflow_id}/config", RestHandler(s.UpdateWorkflowConfig))
		r.Post("/{workflow_id}/run", RestHandler(s.RunWorkflow))
		r.Delete("/{workflow_id}", RestHandler(s.DeleteWorkflow))
	})

	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateExperiment))
		r.Get("/{experiment_id}", RestHandler(s.GetExperiment))
		r.Put("/{experiment_id}/config", RestHandler(s.SetExperimentConfig))
		r.Delete("/{experiment_id}/evals/{name}", RestHandler(s.DeleteEval))
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/{key}", RestHandler(s.GetConfig))
		r.Put("/{key}", RestHandler(s.SetConfig))
	})
}

func (s *BackendService) experimentExists(ctx context.Context, txn *gorm.DB, experimentId uuid.UUID) error {
	var exp database.Experiment
	if err := txn.WithContext(ctx).Select("id").First(&exp, "id = ?", experimentId).Error; err != nil {
		return lookupError(err, "experiment")
	}
	return nil
}

var jobTypes = map[api.JobType]struct{}{
	api.JobDownloadModel: {},
	api.JobLoadModel:     {},
	api.JobTrain:         {},
	api.JobGenerate:      {},
	api.JobEval:          {},
}

var jobStatuses = map[api.JobStatus]struct{}{
	api.JobQueued:   {},
	api.JobRunning:  {},
	api.JobComplete: {},
	api.JobFailed:   {},
	api.JobStopped:  {},
}

func (s *BackendService) CreateJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateJobRequest](r)
	if err != nil {
		return nil, err
	}

	if _, ok := jobTypes[req.Type]; !ok {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid job type '%s'", req.Type)
	}
	if req.Status == "" {
		req.Status = api.JobQueued
	}
	if _, ok := jobStatuses[req.Status]; !ok {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid job status '%s'", req.Status)
	}

	ctx := r.Context()

	if err := s.experimentExists(ctx, s.db, req.ExperimentId); err != nil {
		return nil, err
	}

	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	rawData, err := json.Marshal(data)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "job data cannot be encoded: %v", err)
	}

	job := database.Job{
		Id:           uuid.New(),
		ExperimentId: req.ExperimentId,
		Type:         string(req.Type),
		Status:       string(req.Status),
		Data:         datatypes.JSON(rawData),
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if job.Status == database.JobQueued {
		payload := messaging.JobTaskPayload{JobId: job.Id, Type: job.Type}
		if err := s.publisher.PublishJobTask(ctx, payload); err != nil {
			slog.Error("error publishing job task", "job_id", job.Id, "error", err)
			database.SaveJobError(ctx, s.db, job.Id, "unable to queue job")
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue job")
		}
	}

	slog.Info("created job", "job_id", job.Id, "type", job.Type, "status", job.Status)

	return api.CreateJobResponse{Id: job.Id}, nil
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	var filter core.Filter
	if strings.TrimSpace(params.Filter) != "" {
		filter, err = core.ParseQuery(params.Filter)
		if err != nil {
			return nil, CodedError(http.StatusBadRequest, err)
		}
	}

	query := s.db.WithContext(r.Context()).Order("creation_time ASC")
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}

	var jobs []database.Job
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job records")
	}

	return core.FilterJobs(convertJobs(jobs), filter), nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.Job
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		return nil, lookupError(err, "job")
	}

	return convertJob(job), nil
}

func (s *BackendService) StopJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	if err := database.RequestJobStop(r.Context(), s.db, jobId); err != nil {
		return nil, lookupError(err, "job")
	}

	slog.Info("stop requested for job", "job_id", jobId)
	return nil, nil
}

func (s *BackendService) ListWorkflows(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListWorkflowsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Order("creation_time ASC")
	if params.ExperimentId != "" {
		experimentId, err := uuid.Parse(params.ExperimentId)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid experiment_id '%s'", params.ExperimentId)
		}
		query = query.Where("experiment_id = ?", experimentId)
	}

	var workflows []database.Workflow
	if err := query.Find(&workflows).Error; err != nil {
		slog.Error("error listing workflows", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving workflow records")
	}

	return convertWorkflows(workflows), nil
}

// parseDefinition checks a stored workflow config. An empty config is an
// empty graph.
func parseDefinition(config string) (api.WorkflowDefinition, error) {
	var def api.WorkflowDefinition
	if strings.TrimSpace(config) == "" {
		return def, nil
	}
	if err := json.Unmarshal([]byte(config), &def); err != nil {
		return def, CodedErrorf(http.StatusUnprocessableEntity, "workflow config is not a valid definition: %v", err)
	}
	if err := workflows.Validate(def, workflows.AnyKind); err != nil {
		return def, CodedError(http.StatusUnprocessableEntity, err)
	}
	return def, nil
}

func (s *BackendService) CreateWorkflow(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateWorkflowRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "workflow name is required")
	}
	if _, err := parseDefinition(req.Config); err != nil {
		return nil, err
	}

	ctx := r.Context()

	if err := s.experimentExists(ctx, s.db, req.ExperimentId); err != nil {
		return nil, err
	}

	workflow := database.Workflow{
		Id:           uuid.New(),
		ExperimentId: req.ExperimentId,
		Name:         req.Name,
		Status:       database.WorkflowIdle,
		Config:       req.Config,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&workflow).Error; err != nil {
		slog.Error("error creating workflow", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create workflow entry")
	}

	slog.Info("created workflow", "workflow_id", workflow.Id, "name", workflow.Name)
	return api.CreateWorkflowResponse{Id: workflow.Id}, nil
}

func (s *BackendService) UpdateWorkflowConfig(r *http.Request) (any, error) {
	workflowId, err := URLParamUUID(r, "workflow_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateWorkflowConfigRequest](r)
	if err != nil {
		return nil, err
	}

	if _, err := parseDefinition(req.Config); err != nil {
		return nil, err
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		var workflow database.Workflow
		if err := txn.First(&workflow, "id = ?", workflowId).Error; err != nil {
			return lookupError(err, "workflow")
		}
		if workflow.Status == database.WorkflowRunning {
			return CodedErrorf(http.StatusConflict, "workflow is running")
		}
		return txn.Model(&workflow).Update("config", req.Config).Error
	})
	if err != nil {
		return nil, err
	}

	return nil, nil
}

func (s *BackendService) RunWorkflow(r *http.Request) (any, error) {
	workflowId, err := URLParamUUID(r, "workflow_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var workflow database.Workflow
		if err := txn.First(&workflow, "id = ?", workflowId).Error; err != nil {
			return lookupError(err, "workflow")
		}
		if workflow.Status == database.WorkflowRunning {
			return CodedErrorf(http.StatusConflict, "workflow is already running")
		}
		if _, err := parseDefinition(workflow.Config); err != nil {
			return err
		}
		return database.UpdateWorkflowStatus(ctx, txn, workflowId, database.WorkflowRunning, "")
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishWorkflowRun(ctx, messaging.WorkflowRunPayload{WorkflowId: workflowId}); err != nil {
		slog.Error("error publishing workflow run", "workflow_id", workflowId, "error", err)
		if err := database.UpdateWorkflowStatus(ctx, s.db, workflowId, database.WorkflowFailed, ""); err != nil {
			slog.Error("error marking workflow failed", "workflow_id", workflowId, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue workflow run")
	}

	slog.Info("queued workflow run", "workflow_id", workflowId)
	return nil, nil
}

func (s *BackendService) DeleteWorkflow(r *http.Request) (any, error) {
	workflowId, err := URLParamUUID(r, "workflow_id")
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(r.Context()).Delete(&database.Workflow{}, "id = ?", workflowId)
	if result.Error != nil {
		slog.Error("error deleting workflow", "workflow_id", workflowId, "error", result.Error)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete workflow")
	}
	if result.RowsAffected == 0 {
		return nil, CodedErrorf(http.StatusNotFound, "workflow not found")
	}

	slog.Info("deleted workflow", "workflow_id", workflowId)
	return nil, nil
}

func (s *BackendService) CreateExperiment(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateExperimentRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "experiment name is required")
	}

	exp := database.Experiment{
		Id:           uuid.New(),
		Name:         req.Name,
		CreationTime: time.Now().UTC(),
	}
	if err := s.db.WithContext(r.Context()).Create(&exp).Error; err != nil {
		slog.Error("error creating experiment", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create experiment entry")
	}

	return api.CreateExperimentResponse{Id: exp.Id}, nil
}

func (s *BackendService) GetExperiment(r *http.Request) (any, error) {
	experimentId, err := URLParamUUID(r, "experiment_id")
	if err != nil {
		return nil, err
	}

	var exp database.Experiment
	if err := s.db.WithContext(r.Context()).Preload("Config").First(&exp, "id = ?", experimentId).Error; err != nil {
		return nil, lookupError(err, "experiment")
	}

	return convertExperiment(exp), nil
}

func (s *BackendService) SetExperimentConfig(r *http.Request) (any, error) {
	experimentId, err := URLParamUUID(r, "experiment_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SetConfigRequest](r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Key) == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "config key is required")
	}

	ctx := r.Context()
	if err := s.experimentExists(ctx, s.db, experimentId); err != nil {
		return nil, err
	}

	if err := database.SetExperimentConfig(ctx, s.db, experimentId, req.Key, req.Value); err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return nil, nil
}

// DeleteEval removes the named task from the experiment's evaluation list.
func (s *BackendService) DeleteEval(r *http.Request) (any, error) {
	experimentId, err := URLParamUUID(r, "experiment_id")
	if err != nil {
		return nil, err
	}
	name, err := URLParamString(r, "name")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := s.experimentExists(ctx, txn, experimentId); err != nil {
			return err
		}

		var entry database.ExperimentConfigEntry
		err := txn.First(&entry, "experiment_id = ? AND key = ?", experimentId, api.EvaluationsConfigKey).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return lookupError(err, "experiment config")
		}

		tasks := evals.DecodeTasks(entry.Value)
		kept := make([]api.EvaluationTask, 0, len(tasks))
		for _, task := range tasks {
			if task.Name != name {
				kept = append(kept, task)
			}
		}
		if len(kept) == len(tasks) {
			return CodedErrorf(http.StatusNotFound, "evaluation '%s' not found", name)
		}

		value, err := evals.EncodeTasks(kept)
		if err != nil {
			return CodedError(http.StatusInternalServerError, err)
		}
		return database.SetExperimentConfig(ctx, txn, experimentId, api.EvaluationsConfigKey, value)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("deleted evaluation", "experiment_id", experimentId, "name", name)
	return nil, nil
}

func (s *BackendService) GetConfig(r *http.Request) (any, error) {
	key, err := URLParamString(r, "key")
	if err != nil {
		return nil, err
	}

	value, found, err := database.GetConfig(r.Context(), s.db, key)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	if !found {
		return nil, CodedErrorf(http.StatusNotFound, "config key '%s' not found", key)
	}

	return api.ConfigValue{Key: key, Value: value}, nil
}

func (s *BackendService) SetConfig(r *http.Request) (any, error) {
	key, err := URLParamString(r, "key")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SetConfigRequest](r)
	if err != nil {
		return nil, err
	}

	if err := database.SetConfig(r.Context(), s.db, key, req.Value); err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	return nil, nil
}
