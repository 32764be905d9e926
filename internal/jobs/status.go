package jobs

import "lab-console/pkg/api"

var rank = map[api.JobStatus]int{
	api.JobQueued:   0,
	api.JobRunning:  1,
	api.JobComplete: 2,
	api.JobFailed:   2,
	api.JobStopped:  2,
}

func IsInitial(s api.JobStatus) bool {
	return s == api.JobQueued
}

func IsTerminal(s api.JobStatus) bool {
	switch s {
	case api.JobComplete, api.JobFailed, api.JobStopped:
		return true
	}
	return false
}

// CanTransition reports whether moving from one observed status to another
// follows QUEUED -> RUNNING -> {COMPLETE | FAILED | STOPPED}. A job may skip
// RUNNING (stopped or failed while queued). Statuses outside the known set
// are accepted in either position since the queue may add new ones.
func CanTransition(from, to api.JobStatus) bool {
	if from == to {
		return true
	}
	rf, okFrom := rank[from]
	rt, okTo := rank[to]
	if !okFrom || !okTo {
		return true
	}
	if IsTerminal(from) {
		return false
	}
	return rt > rf
}
