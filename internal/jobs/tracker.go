// Package jobs observes the lifecycle of jobs owned by the remote queue.
// The tracker never moves a job between states itself: every status it
// exposes is the last one the backend reported.
package jobs

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"lab-console/internal/reconcile"
	"lab-console/pkg/api"

	"github.com/google/uuid"
)

// Filter selects which jobs a view polls for: a job type, every type, or
// nothing at all.
type Filter string

const (
	FilterAll  Filter = ""
	FilterNone Filter = "NONE"
)

func FilterOf(t api.JobType) Filter {
	return Filter(t)
}

type Client interface {
	ListJobs(ctx context.Context, jobType string, filter string) ([]api.Job, error)
	GetJob(ctx context.Context, jobId uuid.UUID) (api.Job, error)
	StopJob(ctx context.Context, jobId uuid.UUID) error
}

// view identifies one cached job list: the filter together with the backend
// query it was polled with.
type view struct {
	filter Filter
	query  string
}

type Tracker struct {
	client   Client
	interval time.Duration

	mu        sync.Mutex
	query     string
	filter    Filter
	resources map[view]*reconcile.Resource[api.Job]
	observed  map[uuid.UUID]api.JobStatus
}

// NewTracker creates a tracker whose current view starts at FilterNone, so
// nothing is polled until a view asks for jobs.
func NewTracker(client Client, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = reconcile.DefaultInterval
	}
	return &Tracker{
		client:    client,
		interval:  interval,
		filter:    FilterNone,
		resources: make(map[view]*reconcile.Resource[api.Job]),
		observed:  make(map[uuid.UUID]api.JobStatus),
	}
}

// WithQuery sets the backend query expression applied to every later poll.
// Lists polled with a different query stay cached under their own view.
func (t *Tracker) WithQuery(query string) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.query = query
	return t
}

func (t *Tracker) SetFilter(f Filter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filter = f
}

func (t *Tracker) Filter() Filter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filter
}

func (t *Tracker) resource(f Filter) *reconcile.Resource[api.Job] {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := view{filter: f, query: t.query}
	if res, ok := t.resources[key]; ok {
		return res
	}

	res := reconcile.NewResource("jobs:"+string(f), func(ctx context.Context) ([]api.Job, error) {
		return t.client.ListJobs(ctx, string(key.filter), key.query)
	})
	res.OnApply(t.observe)
	t.resources[key] = res
	return res
}

func (t *Tracker) observe(jobs []api.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, job := range jobs {
		prev, seen := t.observed[job.Id]
		if seen && !CanTransition(prev, job.Status) {
			slog.Warn("job status moved backwards, adopting server state", "job_id", job.Id, "from", prev, "to", job.Status)
		}
		t.observed[job.Id] = job.Status
	}
}

func (t *Tracker) Name() string {
	return "jobs"
}

func (t *Tracker) Revalidate(ctx context.Context) error {
	_, err := t.Refresh(ctx)
	return err
}

// Refresh re-polls the current view right away instead of waiting for the
// next tick. With FilterNone it returns nothing and issues no request.
func (t *Tracker) Refresh(ctx context.Context) ([]api.Job, error) {
	f := t.Filter()
	if f == FilterNone {
		return nil, nil
	}
	snap, _, err := t.resource(f).Poll(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Items, nil
}

// Snapshot returns the cached jobs for f under the current query without
// polling.
func (t *Tracker) Snapshot(f Filter) []api.Job {
	if f == FilterNone {
		return nil
	}
	return t.resource(f).Items()
}

// Subscribe returns a lazy sequence of job snapshots for f. Polling starts
// when the caller ranges over it and stops when the caller stops or ctx is
// done; ranging again restarts it. FilterNone yields nothing.
//
// A failed poll yields the last cached snapshot together with the error, so
// a caller can tell a stale list from a fresh one. Polling continues after
// a failure.
func (t *Tracker) Subscribe(ctx context.Context, f Filter) iter.Seq2[[]api.Job, error] {
	return func(yield func([]api.Job, error) bool) {
		if f == FilterNone {
			return
		}

		res := t.resource(f)
		changes, stop := res.Watch()
		defer stop()

		if snap := res.Snapshot(); snap.Seq > 0 {
			if !yield(snap.Items, nil) {
				return
			}
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		poll := func() bool {
			snap, _, err := res.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				return yield(snap.Items, err)
			}
			return true
		}

		if !poll() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				if !yield(res.Items(), nil) {
					return
				}
			case <-ticker.C:
				if !poll() {
					return
				}
			}
		}
	}
}

// Await polls a single job until it reaches a terminal status. onUpdate, if
// set, sees every observed state.
func (t *Tracker) Await(ctx context.Context, jobId uuid.UUID, onUpdate func(api.Job)) (api.Job, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		job, err := t.client.GetJob(ctx, jobId)
		if err != nil {
			return job, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if IsTerminal(job.Status) {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop asks the queue to stop a job. The STOPPED status shows up only once
// a poll reports it.
func (t *Tracker) Stop(ctx context.Context, jobId uuid.UUID) error {
	err := t.client.StopJob(ctx, jobId)
	if _, rerr := t.Refresh(ctx); rerr != nil {
		slog.Warn("refresh after stop failed", "job_id", jobId, "error", rerr)
	}
	return err
}
