package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

var paragraphMasteryColumns = []string{
	"chapter_id", "average_score", "best_score", "attempts_count", "self_assessment_delta",
	"mastery_score", "is_completed", "status", "time_spent_seconds", "completed_at", "updated_at",
}

var chapterMasteryColumns = []string{
	"total_paragraphs", "completed_paragraphs", "mastered_paragraphs", "struggling_paragraphs",
	"progress_percentage", "mastery_score", "mastery_level", "summative_score", "summative_passed", "updated_at",
}

// MasteryRepository stores the derived paragraph and chapter mastery rows.
type MasteryRepository interface {
	GetParagraph(ctx context.Context, studentID, paragraphID uint) (models.ParagraphMastery, error)
	UpsertParagraph(ctx context.Context, mastery *models.ParagraphMastery) error
	ListParagraphsByChapter(ctx context.Context, studentID, chapterID uint) ([]models.ParagraphMastery, error)
	GetChapter(ctx context.Context, studentID, chapterID uint) (models.ChapterMastery, error)
	UpsertChapter(ctx context.Context, mastery *models.ChapterMastery) error
	ListChapters(ctx context.Context, studentID uint) ([]models.ChapterMastery, error)
}

type masteryRepository struct {
	db *gorm.DB
}

// NewMasteryRepository constructs the mastery repository.
func NewMasteryRepository(db *gorm.DB) MasteryRepository {
	return &masteryRepository{db: db}
}

func (r *masteryRepository) GetParagraph(ctx context.Context, studentID, paragraphID uint) (models.ParagraphMastery, error) {
	var mastery models.ParagraphMastery
	err := conn(ctx, r.db).
		Where("student_id = ? AND paragraph_id = ?", studentID, paragraphID).
		Take(&mastery).Error
	if err != nil {
		return models.ParagraphMastery{}, err
	}
	return mastery, nil
}

func (r *masteryRepository) UpsertParagraph(ctx context.Context, mastery *models.ParagraphMastery) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "paragraph_id"}},
		DoUpdates: clause.AssignmentColumns(paragraphMasteryColumns),
	}).Create(mastery).Error
}

func (r *masteryRepository) ListParagraphsByChapter(ctx context.Context, studentID, chapterID uint) ([]models.ParagraphMastery, error) {
	var rows []models.ParagraphMastery
	err := conn(ctx, r.db).
		Where("student_id = ? AND chapter_id = ?", studentID, chapterID).
		Order("paragraph_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *masteryRepository) GetChapter(ctx context.Context, studentID, chapterID uint) (models.ChapterMastery, error) {
	var mastery models.ChapterMastery
	err := conn(ctx, r.db).
		Where("student_id = ? AND chapter_id = ?", studentID, chapterID).
		Take(&mastery).Error
	if err != nil {
		return models.ChapterMastery{}, err
	}
	return mastery, nil
}

func (r *masteryRepository) UpsertChapter(ctx context.Context, mastery *models.ChapterMastery) error {
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "chapter_id"}},
		DoUpdates: clause.AssignmentColumns(chapterMasteryColumns),
	}).Create(mastery).Error
}

func (r *masteryRepository) ListChapters(ctx context.Context, studentID uint) ([]models.ChapterMastery, error) {
	var rows []models.ChapterMastery
	if err := conn(ctx, r.db).Where("student_id = ?", studentID).Order("chapter_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
