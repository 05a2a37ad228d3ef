package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// SelfAssessmentRepository appends and reads self-assessment records.
type SelfAssessmentRepository interface {
	Create(ctx context.Context, record *models.SelfAssessment) error
	SumImpact(ctx context.Context, studentID, paragraphID uint) (float64, error)
	ListByParagraph(ctx context.Context, studentID, paragraphID uint) ([]models.SelfAssessment, error)
}

type selfAssessmentRepository struct {
	db *gorm.DB
}

// NewSelfAssessmentRepository constructs the repository.
func NewSelfAssessmentRepository(db *gorm.DB) SelfAssessmentRepository {
	return &selfAssessmentRepository{db: db}
}

func (r *selfAssessmentRepository) Create(ctx context.Context, record *models.SelfAssessment) error {
	return conn(ctx, r.db).Create(record).Error
}

func (r *selfAssessmentRepository) SumImpact(ctx context.Context, studentID, paragraphID uint) (float64, error) {
	var total float64
	err := conn(ctx, r.db).Model(&models.SelfAssessment{}).
		Select("COALESCE(SUM(mastery_impact), 0)").
		Where("student_id = ? AND paragraph_id = ?", studentID, paragraphID).
		Scan(&total).Error
	return total, err
}

func (r *selfAssessmentRepository) ListByParagraph(ctx context.Context, studentID, paragraphID uint) ([]models.SelfAssessment, error) {
	var records []models.SelfAssessment
	err := conn(ctx, r.db).
		Where("student_id = ? AND paragraph_id = ?", studentID, paragraphID).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
