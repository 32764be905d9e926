package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued   string = "QUEUED"
	JobRunning  string = "RUNNING"
	JobComplete string = "COMPLETE"
	JobFailed   string = "FAILED"
	JobStopped  string = "STOPPED"
)

const (
	WorkflowIdle     string = "IDLE"
	WorkflowRunning  string = "RUNNING"
	WorkflowComplete string = "COMPLETE"
	WorkflowFailed   string = "FAILED"
)

type Experiment struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"not null"`
	CreationTime time.Time

	Config    []ExperimentConfigEntry `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
	Jobs      []Job                   `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
	Workflows []Workflow              `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
}

type ExperimentConfigEntry struct {
	ExperimentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key          string    `gorm:"primaryKey"`
	Value        string
}

type Job struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExperimentId uuid.UUID `gorm:"type:uuid;index"`

	Type   string `gorm:"size:32;not null"`
	Status string `gorm:"size:20;not null"`

	Progress sql.NullFloat64
	Data     datatypes.JSON `gorm:"type:jsonb"`

	StopRequested bool `gorm:"default:false"`
	Error         string

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

type Workflow struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExperimentId uuid.UUID `gorm:"type:uuid;index"`

	Name   string `gorm:"not null"`
	Status string `gorm:"size:20;not null"`
	Config string

	// CurrentNode is the node a running workflow is executing.
	CurrentNode string

	CreationTime time.Time
}

// ConfigEntry is a global console setting.
type ConfigEntry struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
