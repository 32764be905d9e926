package database_test

import (
	"context"
	"testing"
	"time"

	"lab-console/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, uuid.UUID) {
	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)

	exp := database.Experiment{Id: uuid.New(), Name: "exp", CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&exp).Error)
	return db, exp.Id
}

func addJob(t *testing.T, db *gorm.DB, expId uuid.UUID, status string) uuid.UUID {
	job := database.Job{Id: uuid.New(), ExperimentId: expId, Type: "EVAL", Status: status, CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&job).Error)
	return job.Id
}

func loadJob(t *testing.T, db *gorm.DB, id uuid.UUID) database.Job {
	var job database.Job
	require.NoError(t, db.First(&job, "id = ?", id).Error)
	return job
}

func TestJobStatusTimestamps(t *testing.T) {
	db, expId := setup(t)
	ctx := context.Background()
	id := addJob(t, db, expId, database.JobQueued)

	require.NoError(t, database.UpdateJobStatus(ctx, db, id, database.JobRunning))
	job := loadJob(t, db, id)
	assert.True(t, job.StartTime.Valid)
	assert.False(t, job.CompletionTime.Valid)

	require.NoError(t, database.UpdateJobProgress(ctx, db, id, 40))
	assert.InDelta(t, 40, loadJob(t, db, id).Progress.Float64, 0.001)

	require.NoError(t, database.UpdateJobStatus(ctx, db, id, database.JobComplete))
	job = loadJob(t, db, id)
	assert.Equal(t, database.JobComplete, job.Status)
	assert.True(t, job.CompletionTime.Valid)
	assert.InDelta(t, 100, job.Progress.Float64, 0.001)
}

func TestSaveJobError(t *testing.T) {
	db, expId := setup(t)
	id := addJob(t, db, expId, database.JobRunning)

	database.SaveJobError(context.Background(), db, id, "plugin crashed")

	job := loadJob(t, db, id)
	assert.Equal(t, database.JobFailed, job.Status)
	assert.Equal(t, "plugin crashed", job.Error)
	assert.True(t, job.CompletionTime.Valid)
}

func TestRequestJobStop(t *testing.T) {
	db, expId := setup(t)
	ctx := context.Background()

	queued := addJob(t, db, expId, database.JobQueued)
	running := addJob(t, db, expId, database.JobRunning)
	complete := addJob(t, db, expId, database.JobComplete)

	require.NoError(t, database.RequestJobStop(ctx, db, queued))
	assert.Equal(t, database.JobStopped, loadJob(t, db, queued).Status)
	assert.ErrorIs(t, database.CheckJobStop(ctx, db, queued), database.ErrStopRequested)

	require.NoError(t, database.CheckJobStop(ctx, db, running))
	require.NoError(t, database.RequestJobStop(ctx, db, running))
	job := loadJob(t, db, running)
	assert.Equal(t, database.JobRunning, job.Status)
	assert.True(t, job.StopRequested)
	assert.ErrorIs(t, database.CheckJobStop(ctx, db, running), database.ErrStopRequested)

	require.NoError(t, database.RequestJobStop(ctx, db, complete))
	job = loadJob(t, db, complete)
	assert.Equal(t, database.JobComplete, job.Status)
	assert.False(t, job.StopRequested)

	assert.ErrorIs(t, database.RequestJobStop(ctx, db, uuid.New()), gorm.ErrRecordNotFound)
}

func TestUpdateWorkflowStatus(t *testing.T) {
	db, expId := setup(t)
	ctx := context.Background()

	wf := database.Workflow{Id: uuid.New(), ExperimentId: expId, Name: "wf", Status: database.WorkflowIdle, CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&wf).Error)

	require.NoError(t, database.UpdateWorkflowStatus(ctx, db, wf.Id, database.WorkflowRunning, "eval"))
	require.NoError(t, db.First(&wf, "id = ?", wf.Id).Error)
	assert.Equal(t, database.WorkflowRunning, wf.Status)
	assert.Equal(t, "eval", wf.CurrentNode)

	require.NoError(t, database.UpdateWorkflowStatus(ctx, db, wf.Id, database.WorkflowIdle, ""))
	require.NoError(t, db.First(&wf, "id = ?", wf.Id).Error)
	assert.Equal(t, database.WorkflowIdle, wf.Status)
	assert.Empty(t, wf.CurrentNode)
}

func TestExperimentAndGlobalConfig(t *testing.T) {
	db, expId := setup(t)
	ctx := context.Background()

	require.NoError(t, database.SetExperimentConfig(ctx, db, expId, "evaluations", "[]"))
	require.NoError(t, database.SetExperimentConfig(ctx, db, expId, "evaluations", `[{"name":"acc"}]`))
	require.NoError(t, database.SetExperimentConfig(ctx, db, expId, "model", "llama"))

	cfg, err := database.GetExperimentConfig(ctx, db, expId)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"evaluations": `[{"name":"acc"}]`, "model": "llama"}, cfg)

	_, found, err := database.GetConfig(ctx, db, "theme")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, database.SetConfig(ctx, db, "theme", "dark"))
	require.NoError(t, database.SetConfig(ctx, db, "theme", "light"))
	value, found, err := database.GetConfig(ctx, db, "theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "light", value)
}
