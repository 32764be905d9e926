package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tables as first released, before workflows tracked their current node.

type Experiment struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"not null"`
	CreationTime time.Time
}

type ExperimentConfigEntry struct {
	ExperimentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key          string    `gorm:"primaryKey"`
	Value        string
}

type Job struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExperimentId   uuid.UUID `gorm:"type:uuid;index"`
	Type           string    `gorm:"size:32;not null"`
	Status         string    `gorm:"size:20;not null"`
	Progress       sql.NullFloat64
	Data           datatypes.JSON `gorm:"type:jsonb"`
	StopRequested  bool           `gorm:"default:false"`
	Error          string
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

type Workflow struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExperimentId uuid.UUID `gorm:"type:uuid;index"`
	Name         string    `gorm:"not null"`
	Status       string    `gorm:"size:20;not null"`
	Config       string
	CreationTime time.Time
}

type ConfigEntry struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&Experiment{}, &ExperimentConfigEntry{}, &Job{}, &Workflow{}, &ConfigEntry{})
}
