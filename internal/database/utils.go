package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrStopRequested = errors.New("job stop requested")

func isTerminal(status string) bool {
	return status == JobComplete || status == JobFailed || status == JobStopped
}

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	now := time.Now().UTC()
	if status == JobRunning {
		updates["start_time"] = now
	}
	if isTerminal(status) {
		updates["completion_time"] = now
	}
	if status == JobComplete {
		updates["progress"] = 100.0
	}

	if err := txn.WithContext(ctx).Model(&Job{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateJobProgress(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, progress float64) error {
	if err := txn.WithContext(ctx).Model(&Job{Id: jobId}).Update("progress", progress).Error; err != nil {
		slog.Error("error updating job progress", "job_id", jobId, "progress", progress, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, message string) {
	if err := txn.WithContext(ctx).Model(&Job{Id: jobId}).Updates(map[string]any{
		"status":          JobFailed,
		"error":           message,
		"completion_time": time.Now().UTC(),
	}).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}

// RequestJobStop flags a job for stopping. Queued jobs stop immediately;
// running jobs stop at their next progress step.
func RequestJobStop(ctx context.Context, db *gorm.DB, jobId uuid.UUID) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var job Job
		if err := txn.First(&job, "id = ?", jobId).Error; err != nil {
			return err
		}
		if isTerminal(job.Status) {
			return nil
		}
		if job.Status == JobQueued {
			return UpdateJobStatus(ctx, txn, jobId, JobStopped)
		}
		return txn.Model(&Job{Id: jobId}).Update("stop_requested", true).Error
	})
}

// CheckJobStop returns ErrStopRequested once a stop was asked for.
func CheckJobStop(ctx context.Context, db *gorm.DB, jobId uuid.UUID) error {
	var job Job
	if err := db.WithContext(ctx).Select("stop_requested", "status").First(&job, "id = ?", jobId).Error; err != nil {
		return fmt.Errorf("error checking job status: %w", err)
	}
	if job.StopRequested || job.Status == JobStopped {
		return ErrStopRequested
	}
	return nil
}

func UpdateWorkflowStatus(ctx context.Context, txn *gorm.DB, workflowId uuid.UUID, status, currentNode string) error {
	updates := map[string]any{"status": status, "current_node": currentNode}
	if err := txn.WithContext(ctx).Model(&Workflow{Id: workflowId}).Updates(updates).Error; err != nil {
		slog.Error("error updating workflow status", "workflow_id", workflowId, "status", status, "error", err)
		return err
	}
	return nil
}

func SetExperimentConfig(ctx context.Context, db *gorm.DB, experimentId uuid.UUID, key, value string) error {
	entry := ExperimentConfigEntry{ExperimentId: experimentId, Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "experiment_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("error setting experiment config %q: %w", key, err)
	}
	return nil
}

func GetExperimentConfig(ctx context.Context, db *gorm.DB, experimentId uuid.UUID) (map[string]string, error) {
	var entries []ExperimentConfigEntry
	if err := db.WithContext(ctx).Where("experiment_id = ?", experimentId).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("error loading experiment config: %w", err)
	}
	cfg := make(map[string]string, len(entries))
	for _, e := range entries {
		cfg[e.Key] = e.Value
	}
	return cfg, nil
}

func SetConfig(ctx context.Context, db *gorm.DB, key, value string) error {
	entry := ConfigEntry{Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("error setting config %q: %w", key, err)
	}
	return nil
}

// GetConfig returns the stored value for key and whether it was set.
func GetConfig(ctx context.Context, db *gorm.DB, key string) (string, bool, error) {
	var entry ConfigEntry
	err := db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error loading config %q: %w", key, err)
	}
	return entry.Value, true, nil
}
