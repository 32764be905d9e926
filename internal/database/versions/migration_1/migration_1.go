package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type Workflow struct {
	CurrentNode string
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Workflow{}, "current_node"); err != nil {
		return fmt.Errorf("error adding CurrentNode column: %w", err)
	}

	if err := db.Model(&Workflow{}).
		Where("current_node IS NULL").
		Update("current_node", "").Error; err != nil {
		return fmt.Errorf("error setting default value for CurrentNode: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Workflow{}, "current_node"); err != nil {
		return fmt.Errorf("error dropping CurrentNode column: %w", err)
	}

	return nil
}
