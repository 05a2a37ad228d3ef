package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// HomeworkRepository persists homework, tasks, versioned questions and rosters.
type HomeworkRepository interface {
	CreateHomework(ctx context.Context, homework *models.Homework) error
	GetHomework(ctx context.Context, id uint) (models.Homework, error)
	UpdateHomework(ctx context.Context, homework *models.Homework) error
	CreateTask(ctx context.Context, task *models.HomeworkTask) error
	GetTask(ctx context.Context, id uint) (models.HomeworkTask, error)
	CreateQuestion(ctx context.Context, question *models.HomeworkTaskQuestion) error
	UpdateQuestion(ctx context.Context, question *models.HomeworkTaskQuestion) error
	GetQuestion(ctx context.Context, id uint) (models.HomeworkTaskQuestion, error)
	GetQuestionForUpdate(ctx context.Context, id uint) (models.HomeworkTaskQuestion, error)
	RetireQuestion(ctx context.Context, id, replacedByID uint) (bool, error)
	ListActiveQuestions(ctx context.Context, taskID uint) ([]models.HomeworkTaskQuestion, error)
	ListQuestionVersions(ctx context.Context, slotID uint) ([]models.HomeworkTaskQuestion, error)
	AddToRoster(ctx context.Context, homeworkID uint, studentIDs []uint, assignedAt time.Time) error
	IsOnRoster(ctx context.Context, homeworkID, studentID uint) (bool, error)
	ListRoster(ctx context.Context, homeworkID uint) ([]models.HomeworkStudent, error)
}

type homeworkRepository struct {
	db *gorm.DB
}

// NewHomeworkRepository instantiates a GORM-backed homework repository.
func NewHomeworkRepository(db *gorm.DB) HomeworkRepository {
	return &homeworkRepository{db: db}
}

func (r *homeworkRepository) CreateHomework(ctx context.Context, homework *models.Homework) error {
	return conn(ctx, r.db).Omit(clause.Associations).Create(homework).Error
}

func (r *homeworkRepository) GetHomework(ctx context.Context, id uint) (models.Homework, error) {
	var homework models.Homework
	err := conn(ctx, r.db).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		First(&homework, id).Error
	if err != nil {
		return models.Homework{}, err
	}
	return homework, nil
}

func (r *homeworkRepository) UpdateHomework(ctx context.Context, homework *models.Homework) error {
	return conn(ctx, r.db).Omit(clause.Associations).Save(homework).Error
}

func (r *homeworkRepository) CreateTask(ctx context.Context, task *models.HomeworkTask) error {
	return conn(ctx, r.db).Omit(clause.Associations).Create(task).Error
}

func (r *homeworkRepository) GetTask(ctx context.Context, id uint) (models.HomeworkTask, error) {
	var task models.HomeworkTask
	if err := conn(ctx, r.db).Preload("Homework").First(&task, id).Error; err != nil {
		return models.HomeworkTask{}, err
	}
	return task, nil
}

func (r *homeworkRepository) CreateQuestion(ctx context.Context, question *models.HomeworkTaskQuestion) error {
	return conn(ctx, r.db).Create(question).Error
}

func (r *homeworkRepository) UpdateQuestion(ctx context.Context, question *models.HomeworkTaskQuestion) error {
	return conn(ctx, r.db).Save(question).Error
}

func (r *homeworkRepository) GetQuestion(ctx context.Context, id uint) (models.HomeworkTaskQuestion, error) {
	var question models.HomeworkTaskQuestion
	if err := conn(ctx, r.db).First(&question, id).Error; err != nil {
		return models.HomeworkTaskQuestion{}, err
	}
	return question, nil
}

// GetQuestionForUpdate locks the question version until the surrounding transaction ends.
func (r *homeworkRepository) GetQuestionForUpdate(ctx context.Context, id uint) (models.HomeworkTaskQuestion, error) {
	var question models.HomeworkTaskQuestion
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&question, id).Error
	if err != nil {
		return models.HomeworkTaskQuestion{}, err
	}
	return question, nil
}

// RetireQuestion deactivates an active version and links its replacement.
// It reports false when the version was already retired.
func (r *homeworkRepository) RetireQuestion(ctx context.Context, id, replacedByID uint) (bool, error) {
	result := conn(ctx, r.db).Model(&models.HomeworkTaskQuestion{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{"is_active": false, "replaced_by_id": replacedByID})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *homeworkRepository) ListActiveQuestions(ctx context.Context, taskID uint) ([]models.HomeworkTaskQuestion, error) {
	var questions []models.HomeworkTaskQuestion
	err := conn(ctx, r.db).
		Where("task_id = ? AND is_active = ?", taskID, true).
		Order("sort_order ASC, slot_id ASC").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *homeworkRepository) ListQuestionVersions(ctx context.Context, slotID uint) ([]models.HomeworkTaskQuestion, error) {
	var versions []models.HomeworkTaskQuestion
	if err := conn(ctx, r.db).Where("slot_id = ?", slotID).Order("version ASC").Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// AddToRoster ignores students that are already assigned.
func (r *homeworkRepository) AddToRoster(ctx context.Context, homeworkID uint, studentIDs []uint, assignedAt time.Time) error {
	if len(studentIDs) == 0 {
		return nil
	}

	entries := make([]models.HomeworkStudent, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		entries = append(entries, models.HomeworkStudent{HomeworkID: homeworkID, StudentID: studentID, AssignedAt: assignedAt})
	}

	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "homework_id"}, {Name: "student_id"}},
		DoNothing: true,
	}).Create(&entries).Error
}

func (r *homeworkRepository) IsOnRoster(ctx context.Context, homeworkID, studentID uint) (bool, error) {
	var total int64
	err := conn(ctx, r.db).Model(&models.HomeworkStudent{}).
		Where("homework_id = ? AND student_id = ?", homeworkID, studentID).
		Count(&total).Error
	return total > 0, err
}

func (r *homeworkRepository) ListRoster(ctx context.Context, homeworkID uint) ([]models.HomeworkStudent, error) {
	var entries []models.HomeworkStudent
	if err := conn(ctx, r.db).Where("homework_id = ?", homeworkID).Order("student_id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
