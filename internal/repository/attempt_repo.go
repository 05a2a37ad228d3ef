package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// AttemptRepository persists test attempts and their answers.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.TestAttempt) error
	GetByID(ctx context.Context, id uint) (models.TestAttempt, error)
	GetForUpdate(ctx context.Context, id uint) (models.TestAttempt, error)
	Transition(ctx context.Context, attempt *models.TestAttempt, from models.AttemptStatus) (bool, error)
	CountByStudentAndTest(ctx context.Context, studentID, testID uint) (int64, error)
	AbandonInProgress(ctx context.Context, studentID, testID uint) (int64, error)
	ListInProgressStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TestAttempt, error)
	CreateAnswer(ctx context.Context, answer *models.TestAttemptAnswer) error
	ListAnswers(ctx context.Context, attemptID uint) ([]models.TestAttemptAnswer, error)
	ListCompletedForParagraph(ctx context.Context, studentID, paragraphID uint) ([]models.TestAttempt, error)
	LatestSummativeForChapter(ctx context.Context, studentID, chapterID uint) (models.TestAttempt, error)
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates a GORM-backed attempt repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.TestAttempt) error {
	return conn(ctx, r.db).Omit(clause.Associations).Create(attempt).Error
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.TestAttempt, error) {
	var attempt models.TestAttempt
	err := conn(ctx, r.db).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("answered_at ASC, id ASC")
		}).
		First(&attempt, id).Error
	if err != nil {
		return models.TestAttempt{}, err
	}
	return attempt, nil
}

// GetForUpdate locks the attempt row until the surrounding transaction ends. Answers are not loaded.
func (r *attemptRepository) GetForUpdate(ctx context.Context, id uint) (models.TestAttempt, error) {
	var attempt models.TestAttempt
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&attempt, id).Error
	if err != nil {
		return models.TestAttempt{}, err
	}
	return attempt, nil
}

// Transition writes the attempt's status and outcome only while the stored row is still in from.
// It reports false when another writer moved the attempt first.
func (r *attemptRepository) Transition(ctx context.Context, attempt *models.TestAttempt, from models.AttemptStatus) (bool, error) {
	result := conn(ctx, r.db).Model(&models.TestAttempt{}).
		Where("id = ? AND status = ?", attempt.ID, from).
		Updates(map[string]interface{}{
			"status":             attempt.Status,
			"completed_at":       attempt.CompletedAt,
			"score":              attempt.Score,
			"points_earned":      attempt.PointsEarned,
			"total_points":       attempt.TotalPoints,
			"passed":             attempt.Passed,
			"time_spent_seconds": attempt.TimeSpentSeconds,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *attemptRepository) CountByStudentAndTest(ctx context.Context, studentID, testID uint) (int64, error) {
	var total int64
	err := conn(ctx, r.db).Model(&models.TestAttempt{}).
		Where("student_id = ? AND test_id = ?", studentID, testID).
		Count(&total).Error
	return total, err
}

func (r *attemptRepository) AbandonInProgress(ctx context.Context, studentID, testID uint) (int64, error) {
	result := conn(ctx, r.db).Model(&models.TestAttempt{}).
		Where("student_id = ? AND test_id = ? AND status = ?", studentID, testID, models.AttemptStatusInProgress).
		Update("status", models.AttemptStatusAbandoned)
	return result.RowsAffected, result.Error
}

func (r *attemptRepository) ListInProgressStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TestAttempt, error) {
	query := conn(ctx, r.db).
		Where("status = ? AND started_at < ?", models.AttemptStatusInProgress, cutoff).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var attempts []models.TestAttempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *attemptRepository) CreateAnswer(ctx context.Context, answer *models.TestAttemptAnswer) error {
	return conn(ctx, r.db).Create(answer).Error
}

func (r *attemptRepository) ListAnswers(ctx context.Context, attemptID uint) ([]models.TestAttemptAnswer, error) {
	var answers []models.TestAttemptAnswer
	err := conn(ctx, r.db).
		Where("attempt_id = ?", attemptID).
		Order("answered_at ASC, id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	return answers, nil
}

// ListCompletedForParagraph returns completed formative and summative attempts of tests linked to the paragraph, oldest first.
func (r *attemptRepository) ListCompletedForParagraph(ctx context.Context, studentID, paragraphID uint) ([]models.TestAttempt, error) {
	var attempts []models.TestAttempt
	err := conn(ctx, r.db).
		Joins("JOIN tests ON tests.id = test_attempts.test_id").
		Where("test_attempts.student_id = ? AND test_attempts.status = ?", studentID, models.AttemptStatusCompleted).
		Where("tests.paragraph_id = ? AND tests.purpose IN ?", paragraphID, []models.TestPurpose{models.TestPurposeFormative, models.TestPurposeSummative}).
		Order("test_attempts.completed_at ASC, test_attempts.id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// LatestSummativeForChapter returns gorm.ErrRecordNotFound when the student has no completed summative attempt.
func (r *attemptRepository) LatestSummativeForChapter(ctx context.Context, studentID, chapterID uint) (models.TestAttempt, error) {
	var attempt models.TestAttempt
	err := conn(ctx, r.db).
		Joins("JOIN tests ON tests.id = test_attempts.test_id").
		Where("test_attempts.student_id = ? AND test_attempts.status = ?", studentID, models.AttemptStatusCompleted).
		Where("tests.chapter_id = ? AND tests.purpose = ?", chapterID, models.TestPurposeSummative).
		Order("test_attempts.completed_at DESC, test_attempts.id DESC").
		Take(&attempt).Error
	if err != nil {
		return models.TestAttempt{}, err
	}
	return attempt, nil
}
