package core

import (
	"strings"

	"lab-console/pkg/api"
)

type Filter interface {
	Matches(job api.Job) bool
}

// jobField returns the textual value of a filterable job field.
func jobField(job api.Job, label string) (string, bool) {
	switch label {
	case "id":
		return job.Id.String(), true
	case "type":
		return string(job.Type), true
	case "status":
		return string(job.Status), true
	case "experiment_id":
		return job.ExperimentId.String(), true
	case "progress":
		return job.Progress.String(), true
	default:
		return "", false
	}
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(job api.Job) bool {
	for _, filter := range f.filters {
		if !filter.Matches(job) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(job api.Job) bool {
	for _, filter := range f.filters {
		if filter.Matches(job) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(job api.Job) bool {
	return !f.filter.Matches(job)
}

// ProgressFilter matches jobs with known progress strictly between min and max.
type ProgressFilter struct {
	min float64
	max float64
}

func (f *ProgressFilter) Matches(job api.Job) bool {
	if !job.Progress.Known() {
		return false
	}
	p := job.Progress.Percent()
	return f.min < p && p < f.max
}

type SubstringFilter struct {
	label  string
	substr string
}

func (f *SubstringFilter) Matches(job api.Job) bool {
	v, ok := jobField(job, f.label)
	return ok && strings.Contains(v, f.substr)
}

type StringEqFilter struct {
	label string
	value string
}

func (f *StringEqFilter) Matches(job api.Job) bool {
	v, ok := jobField(job, f.label)
	return ok && v == f.value
}

type StringLtFilter struct {
	label string
	value string
}

func (f *StringLtFilter) Matches(job api.Job) bool {
	v, ok := jobField(job, f.label)
	return ok && v < f.value
}

type StringGtFilter struct {
	label string
	value string
}

func (f *StringGtFilter) Matches(job api.Job) bool {
	v, ok := jobField(job, f.label)
	return ok && v > f.value
}

// FilterJobs keeps the jobs matched by filter, in order. A nil filter keeps all.
func FilterJobs(jobs []api.Job, filter Filter) []api.Job {
	if filter == nil {
		return jobs
	}
	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		if filter.Matches(job) {
			out = append(out, job)
		}
	}
	return out
}
