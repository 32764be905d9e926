package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobDownloadModel JobType = "DOWNLOAD_MODEL"
	JobLoadModel     JobType = "LOAD_MODEL"
	JobTrain         JobType = "TRAIN"
	JobGenerate      JobType = "GENERATE"
	JobEval          JobType = "EVAL"
)

type JobStatus string

const (
	JobQueued   JobStatus = "QUEUED"
	JobRunning  JobStatus = "RUNNING"
	JobComplete JobStatus = "COMPLETE"
	JobFailed   JobStatus = "FAILED"
	JobStopped  JobStatus = "STOPPED"
)

type Job struct {
	Id           uuid.UUID      `json:"id"`
	ExperimentId uuid.UUID      `json:"experiment_id"`
	Type         JobType        `json:"type"`
	Status       JobStatus      `json:"status"`
	Progress     Progress       `json:"progress"`
	JobData      map[string]any `json:"job_data,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EvalJobData is the job_data payload of an EVAL job.
type EvalJobData struct {
	Plugin    string `json:"plugin"`
	Evaluator string `json:"evaluator"`
}

// GenerateJobData is the job_data payload of a GENERATE job built from a chat script.
type GenerateJobData struct {
	Chats []ChatMessage `json:"chats"`
}

// DecodeJobData reinterprets a job's opaque payload as T. Callers pick T from
// the job type; fields the payload does not carry are left zero.
func DecodeJobData[T any](job Job) (T, error) {
	var out T
	raw, err := json.Marshal(job.JobData)
	if err != nil {
		return out, fmt.Errorf("error encoding job_data of job %v: %w", job.Id, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("job_data of job %v does not match %T: %w", job.Id, out, err)
	}
	return out, nil
}

type CreateJobRequest struct {
	ExperimentId uuid.UUID
	Type         JobType
	Status       JobStatus
	Data         map[string]any
}

type CreateJobResponse struct {
	Id uuid.UUID
}

type ListJobsParams struct {
	Type   string `schema:"type"`
	Filter string `schema:"filter"`
}

type WorkflowStatus string

const (
	WorkflowIdle     WorkflowStatus = "IDLE"
	WorkflowRunning  WorkflowStatus = "RUNNING"
	WorkflowComplete WorkflowStatus = "COMPLETE"
	WorkflowFailed   WorkflowStatus = "FAILED"
)

type Workflow struct {
	Id           uuid.UUID      `json:"id"`
	ExperimentId uuid.UUID      `json:"experiment_id"`
	Name         string         `json:"name"`
	Status       WorkflowStatus `json:"status"`
	Config       string         `json:"config"`
	CurrentNode  string         `json:"current_node,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Edge points from the owning node to To. A non-empty Condition marks a
// conditional branch.
type Edge struct {
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type WorkflowNode struct {
	Id         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Out        []Edge         `json:"out,omitempty" yaml:"out,omitempty"`
}

type WorkflowDefinition struct {
	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`
}

// ParseDefinition decodes the stored graph. An empty config is an empty
// definition.
func (w Workflow) ParseDefinition() (WorkflowDefinition, error) {
	var def WorkflowDefinition
	if w.Config == "" {
		return def, nil
	}
	if err := json.Unmarshal([]byte(w.Config), &def); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("error parsing config of workflow %v: %w", w.Id, err)
	}
	return def, nil
}

// Definition decodes the stored graph. A config that does not parse yields
// an empty definition.
func (w Workflow) Definition() WorkflowDefinition {
	def, err := w.ParseDefinition()
	if err != nil {
		return WorkflowDefinition{}
	}
	return def
}

func (w Workflow) Nodes() []WorkflowNode {
	return w.Definition().Nodes
}

type ListWorkflowsParams struct {
	ExperimentId string `schema:"experiment_id"`
}

type CreateWorkflowRequest struct {
	ExperimentId uuid.UUID
	Name         string
	Config       string
}

type CreateWorkflowResponse struct {
	Id uuid.UUID
}

type UpdateWorkflowConfigRequest struct {
	Config string
}

type EvaluationTask struct {
	Name             string         `json:"name"`
	Plugin           string         `json:"plugin"`
	ScriptParameters map[string]any `json:"script_parameters,omitempty"`
}

// CustomEvaluationField is one user defined check of a custom evaluation plugin.
type CustomEvaluationField struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	ReturnType string `json:"return_type"`
}

const EvaluationsConfigKey = "evaluations"

// ExperimentConfig is the flat key/value configuration blob of an experiment.
// Structured entries such as evaluations are JSON encoded strings.
type ExperimentConfig map[string]string

type Experiment struct {
	Id     uuid.UUID        `json:"id"`
	Name   string           `json:"name"`
	Config ExperimentConfig `json:"config"`
}

type CreateExperimentRequest struct {
	Name string
}

type CreateExperimentResponse struct {
	Id uuid.UUID
}

type SetConfigRequest struct {
	Key   string
	Value string
}

type ConfigValue struct {
	Key   string
	Value string
}
