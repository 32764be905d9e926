// Package labclient is the HTTP transport to the lab backend's job, workflow,
// experiment and config endpoints.
package labclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lab-console/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type Client struct {
	client *resty.Client
}

func New(apiRoot string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(apiRoot, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Client{client: client}
}

type request struct {
	method     string
	path       string
	pathParams map[string]string
	query      url.Values
	body       any
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	r := c.client.R().SetContext(ctx)
	if req.pathParams != nil {
		r.SetPathParams(req.pathParams)
	}
	if req.query != nil {
		r.SetQueryParamsFromValues(req.query)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}

	res, err := r.Execute(req.method, req.path)
	if err != nil {
		slog.Warn("lab backend request failed", "method", req.method, "path", req.path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, req.method, req.path, err)
	}

	if !res.IsSuccess() {
		return &StatusError{
			Method: req.method,
			Path:   req.path,
			Code:   res.StatusCode(),
			Body:   strings.TrimSpace(res.String()),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		slog.Warn("unable to parse lab backend response", "method", req.method, "path", req.path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, req.method, req.path, err)
	}
	return nil
}

func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (uuid.UUID, error) {
	var res api.CreateJobResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/jobs", body: req}, &res); err != nil {
		return uuid.Nil, err
	}
	return res.Id, nil
}

// ListJobs returns jobs of the given type, or of every type when jobType is
// empty. filter is passed through to the backend's query language.
func (c *Client) ListJobs(ctx context.Context, jobType string, filter string) ([]api.Job, error) {
	query := url.Values{}
	if jobType != "" {
		query.Set("type", jobType)
	}
	if filter != "" {
		query.Set("filter", filter)
	}

	jobs := make([]api.Job, 0)
	if err := c.do(ctx, request{method: http.MethodGet, path: "/jobs", query: query}, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) GetJob(ctx context.Context, jobId uuid.UUID) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/jobs/{job_id}",
		pathParams: map[string]string{"job_id": jobId.String()},
	}, &job)
	return job, err
}

func (c *Client) StopJob(ctx context.Context, jobId uuid.UUID) error {
	return c.do(ctx, request{
		method:     http.MethodPost,
		path:       "/jobs/{job_id}/stop",
		pathParams: map[string]string{"job_id": jobId.String()},
	}, nil)
}

// ListWorkflows lists the workflows of an experiment, or all workflows when
// experimentId is uuid.Nil.
func (c *Client) ListWorkflows(ctx context.Context, experimentId uuid.UUID) ([]api.Workflow, error) {
	query := url.Values{}
	if experimentId != uuid.Nil {
		query.Set("experiment_id", experimentId.String())
	}

	workflows := make([]api.Workflow, 0)
	if err := c.do(ctx, request{method: http.MethodGet, path: "/workflows", query: query}, &workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, req api.CreateWorkflowRequest) (uuid.UUID, error) {
	var res api.CreateWorkflowResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/workflows", body: req}, &res); err != nil {
		return uuid.Nil, err
	}
	return res.Id, nil
}

func (c *Client) UpdateWorkflowConfig(ctx context.Context, workflowId uuid.UUID, config string) error {
	return c.do(ctx, request{
		method:     http.MethodPut,
		path:       "/workflows/{workflow_id}/config",
		pathParams: map[string]string{"workflow_id": workflowId.String()},
		body:       api.UpdateWorkflowConfigRequest{Config: config},
	}, nil)
}

func (c *Client) RunWorkflow(ctx context.Context, workflowId uuid.UUID) error {
	return c.do(ctx, request{
		method:     http.MethodPost,
		path:       "/workflows/{workflow_id}/run",
		pathParams: map[string]string{"workflow_id": workflowId.String()},
	}, nil)
}

func (c *Client) DeleteWorkflow(ctx context.Context, workflowId uuid.UUID) error {
	return c.do(ctx, request{
		method:     http.MethodDelete,
		path:       "/workflows/{workflow_id}",
		pathParams: map[string]string{"workflow_id": workflowId.String()},
	}, nil)
}

func (c *Client) CreateExperiment(ctx context.Context, name string) (uuid.UUID, error) {
	var res api.CreateExperimentResponse
	if err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/experiments",
		body:   api.CreateExperimentRequest{Name: name},
	}, &res); err != nil {
		return uuid.Nil, err
	}
	return res.Id, nil
}

func (c *Client) GetExperiment(ctx context.Context, experimentId uuid.UUID) (api.Experiment, error) {
	var exp api.Experiment
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/experiments/{experiment_id}",
		pathParams: map[string]string{"experiment_id": experimentId.String()},
	}, &exp)
	return exp, err
}

func (c *Client) SetExperimentConfig(ctx context.Context, experimentId uuid.UUID, key, value string) error {
	return c.do(ctx, request{
		method:     http.MethodPut,
		path:       "/experiments/{experiment_id}/config",
		pathParams: map[string]string{"experiment_id": experimentId.String()},
		body:       api.SetConfigRequest{Key: key, Value: value},
	}, nil)
}

func (c *Client) DeleteEval(ctx context.Context, experimentId uuid.UUID, name string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/experiments/{experiment_id}/evals/{name}",
		pathParams: map[string]string{
			"experiment_id": experimentId.String(),
			"name":          name,
		},
	}, nil)
}

func (c *Client) GetConfig(ctx context.Context, key string) (string, error) {
	var res api.ConfigValue
	if err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/config/{key}",
		pathParams: map[string]string{"key": key},
	}, &res); err != nil {
		return "", err
	}
	return res.Value, nil
}

func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	return c.do(ctx, request{
		method:     http.MethodPut,
		path:       "/config/{key}",
		pathParams: map[string]string{"key": key},
		body:       api.SetConfigRequest{Key: key, Value: value},
	}, nil)
}
