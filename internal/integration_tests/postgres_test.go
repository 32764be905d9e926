package integrationtests

import (
	"context"
	"testing"
	"time"

	"lab-console/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPostgresDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	db := createPostgresDB(t)
	ctx := context.Background()

	// Migrating an up to date schema is a no-op.
	require.NoError(t, database.GetMigrator(db).Migrate())

	exp := database.Experiment{Id: uuid.New(), Name: "pg", CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&exp).Error)

	require.NoError(t, database.SetExperimentConfig(ctx, db, exp.Id, "evaluations", "[]"))
	require.NoError(t, database.SetExperimentConfig(ctx, db, exp.Id, "evaluations", `[{"name":"acc","plugin":"exact_match"}]`))
	cfg, err := database.GetExperimentConfig(ctx, db, exp.Id)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"acc","plugin":"exact_match"}]`, cfg["evaluations"])

	job := database.Job{
		Id:           uuid.New(),
		ExperimentId: exp.Id,
		Type:         "EVAL",
		Status:       database.JobQueued,
		Data:         datatypes.JSON(`{"plugin":"exact_match"}`),
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&job).Error)

	require.NoError(t, database.UpdateJobStatus(ctx, db, job.Id, database.JobRunning))
	require.NoError(t, database.RequestJobStop(ctx, db, job.Id))
	assert.ErrorIs(t, database.CheckJobStop(ctx, db, job.Id), database.ErrStopRequested)

	var stored database.Job
	require.NoError(t, db.First(&stored, "id = ?", job.Id).Error)
	assert.JSONEq(t, `{"plugin":"exact_match"}`, string(stored.Data))
	assert.True(t, stored.StartTime.Valid)

	// Deleting an experiment removes its jobs.
	require.NoError(t, db.Delete(&exp).Error)
	var count int64
	require.NoError(t, db.Model(&database.Job{}).Where("experiment_id = ?", exp.Id).Count(&count).Error)
	assert.Zero(t, count)
}
