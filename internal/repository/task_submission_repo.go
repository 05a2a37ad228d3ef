package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// TaskSubmissionRepository persists homework task submissions, answers and review history.
type TaskSubmissionRepository interface {
	ListByStudentAndTask(ctx context.Context, studentID, taskID uint) ([]models.StudentTaskSubmission, error)
	ListNeedingReview(ctx context.Context, homeworkID uint) ([]models.StudentTaskSubmission, error)
	Create(ctx context.Context, submission *models.StudentTaskSubmission) error
	GetByID(ctx context.Context, id uint) (models.StudentTaskSubmission, error)
	GetForUpdate(ctx context.Context, id uint) (models.StudentTaskSubmission, error)
	Update(ctx context.Context, submission *models.StudentTaskSubmission) error
	Transition(ctx context.Context, submission *models.StudentTaskSubmission, from models.SubmissionStatus) (bool, error)
	CreateAnswer(ctx context.Context, answer *models.StudentTaskAnswer) error
	UpdateAnswer(ctx context.Context, answer *models.StudentTaskAnswer) error
	GetAnswer(ctx context.Context, id uint) (models.StudentTaskAnswer, error)
	ListAnswers(ctx context.Context, submissionID uint) ([]models.StudentTaskAnswer, error)
	CountAnswersForQuestion(ctx context.Context, questionID uint) (int64, error)
	CreateReview(ctx context.Context, entry *models.AnswerReviewHistory) error
	ListReviews(ctx context.Context, answerID uint) ([]models.AnswerReviewHistory, error)
}

type taskSubmissionRepository struct {
	db *gorm.DB
}

// NewTaskSubmissionRepository instantiates a GORM-backed submission repository.
func NewTaskSubmissionRepository(db *gorm.DB) TaskSubmissionRepository {
	return &taskSubmissionRepository{db: db}
}

func (r *taskSubmissionRepository) ListByStudentAndTask(ctx context.Context, studentID, taskID uint) ([]models.StudentTaskSubmission, error) {
	var submissions []models.StudentTaskSubmission
	err := conn(ctx, r.db).
		Where("student_id = ? AND task_id = ?", studentID, taskID).
		Order("attempt_number ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *taskSubmissionRepository) ListNeedingReview(ctx context.Context, homeworkID uint) ([]models.StudentTaskSubmission, error) {
	var submissions []models.StudentTaskSubmission
	err := conn(ctx, r.db).
		Where("homework_id = ? AND status = ?", homeworkID, models.SubmissionStatusNeedsReview).
		Order("submitted_at ASC, id ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *taskSubmissionRepository) Create(ctx context.Context, submission *models.StudentTaskSubmission) error {
	return conn(ctx, r.db).Omit(clause.Associations).Create(submission).Error
}

func (r *taskSubmissionRepository) GetByID(ctx context.Context, id uint) (models.StudentTaskSubmission, error) {
	return r.load(conn(ctx, r.db), id)
}

// GetForUpdate locks the submission row until the surrounding transaction ends.
// Answers are read after the lock is taken, so they include every committed write.
func (r *taskSubmissionRepository) GetForUpdate(ctx context.Context, id uint) (models.StudentTaskSubmission, error) {
	return r.load(conn(ctx, r.db).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), id)
}

func (r *taskSubmissionRepository) load(db *gorm.DB, id uint) (models.StudentTaskSubmission, error) {
	var submission models.StudentTaskSubmission
	err := db.
		Preload("Task.Homework").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("Answers.Question").
		First(&submission, id).Error
	if err != nil {
		return models.StudentTaskSubmission{}, err
	}
	return submission, nil
}

func (r *taskSubmissionRepository) Update(ctx context.Context, submission *models.StudentTaskSubmission) error {
	return conn(ctx, r.db).Omit(clause.Associations).Save(submission).Error
}

// Transition stores the graded submission only while the stored row is still in from.
// It reports false when another writer completed the submission first.
func (r *taskSubmissionRepository) Transition(ctx context.Context, submission *models.StudentTaskSubmission, from models.SubmissionStatus) (bool, error) {
	result := conn(ctx, r.db).Model(&models.StudentTaskSubmission{}).
		Where("id = ? AND status = ?", submission.ID, from).
		Updates(map[string]interface{}{
			"status":               submission.Status,
			"submitted_at":         submission.SubmittedAt,
			"is_late":              submission.IsLate,
			"late_penalty_applied": submission.LatePenaltyApplied,
			"original_score":       submission.OriginalScore,
			"score":                submission.Score,
			"max_score":            submission.MaxScore,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *taskSubmissionRepository) CreateAnswer(ctx context.Context, answer *models.StudentTaskAnswer) error {
	return conn(ctx, r.db).Omit(clause.Associations).Create(answer).Error
}

func (r *taskSubmissionRepository) UpdateAnswer(ctx context.Context, answer *models.StudentTaskAnswer) error {
	return conn(ctx, r.db).Omit(clause.Associations).Save(answer).Error
}

func (r *taskSubmissionRepository) GetAnswer(ctx context.Context, id uint) (models.StudentTaskAnswer, error) {
	var answer models.StudentTaskAnswer
	if err := conn(ctx, r.db).Preload("Question").First(&answer, id).Error; err != nil {
		return models.StudentTaskAnswer{}, err
	}
	return answer, nil
}

func (r *taskSubmissionRepository) ListAnswers(ctx context.Context, submissionID uint) ([]models.StudentTaskAnswer, error) {
	var answers []models.StudentTaskAnswer
	err := conn(ctx, r.db).
		Preload("Question").
		Where("submission_id = ?", submissionID).
		Order("id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *taskSubmissionRepository) CountAnswersForQuestion(ctx context.Context, questionID uint) (int64, error) {
	var total int64
	err := conn(ctx, r.db).Model(&models.StudentTaskAnswer{}).Where("question_id = ?", questionID).Count(&total).Error
	return total, err
}

func (r *taskSubmissionRepository) CreateReview(ctx context.Context, entry *models.AnswerReviewHistory) error {
	return conn(ctx, r.db).Create(entry).Error
}

func (r *taskSubmissionRepository) ListReviews(ctx context.Context, answerID uint) ([]models.AnswerReviewHistory, error) {
	var entries []models.AnswerReviewHistory
	if err := conn(ctx, r.db).Where("answer_id = ?", answerID).Order("reviewed_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
