package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// Models lists every persisted model in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.Chapter{},
		&models.Paragraph{},
		&models.Test{},
		&models.Question{},
		&models.QuestionOption{},
		&models.TestAttempt{},
		&models.TestAttemptAnswer{},
		&models.ParagraphMastery{},
		&models.ChapterMastery{},
		&models.SelfAssessment{},
		&models.Homework{},
		&models.HomeworkTask{},
		&models.HomeworkTaskQuestion{},
		&models.HomeworkStudent{},
		&models.StudentTaskSubmission{},
		&models.StudentTaskAnswer{},
		&models.AnswerReviewHistory{},
	}
}

// AutoMigrate creates or updates the schema, including the unique indexes the engine relies on.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
