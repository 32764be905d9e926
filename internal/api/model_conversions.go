package api

import (
	"encoding/json"
	"log/slog"

	"lab-console/internal/database"
	"lab-console/pkg/api"
)

func convertJob(j database.Job) api.Job {
	progress := api.IndeterminateProgress()
	if j.Progress.Valid {
		progress = api.ProgressOf(j.Progress.Float64)
	}

	var data map[string]any
	if len(j.Data) > 0 {
		if err := json.Unmarshal(j.Data, &data); err != nil {
			slog.Warn("job has malformed data", "job_id", j.Id, "error", err)
		}
	}

	return api.Job{
		Id:           j.Id,
		ExperimentId: j.ExperimentId,
		Type:         api.JobType(j.Type),
		Status:       api.JobStatus(j.Status),
		Progress:     progress,
		JobData:      data,
		Error:        j.Error,
		CreatedAt:    j.CreationTime,
	}
}

func convertJobs(js []database.Job) []api.Job {
	jobs := make([]api.Job, 0, len(js))
	for _, j := range js {
		jobs = append(jobs, convertJob(j))
	}
	return jobs
}

func convertWorkflow(w database.Workflow) api.Workflow {
	return api.Workflow{
		Id:           w.Id,
		ExperimentId: w.ExperimentId,
		Name:         w.Name,
		Status:       api.WorkflowStatus(w.Status),
		Config:       w.Config,
		CurrentNode:  w.CurrentNode,
		CreatedAt:    w.CreationTime,
	}
}

func convertWorkflows(ws []database.Workflow) []api.Workflow {
	workflows := make([]api.Workflow, 0, len(ws))
	for _, w := range ws {
		workflows = append(workflows, convertWorkflow(w))
	}
	return workflows
}

func convertExperiment(e database.Experiment) api.Experiment {
	config := make(api.ExperimentConfig, len(e.Config))
	for _, entry := range e.Config {
		config[entry.Key] = entry.Value
	}
	return api.Experiment{
		Id:     e.Id,
		Name:   e.Name,
		Config: config,
	}
}
