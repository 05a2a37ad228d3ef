package models

import (
	"time"

	"gorm.io/datatypes"
)

// HomeworkStatus enumerates the publication states of a homework.
type HomeworkStatus string

const (
	HomeworkStatusDraft     HomeworkStatus = "draft"
	HomeworkStatusPublished HomeworkStatus = "published"
	HomeworkStatusClosed    HomeworkStatus = "closed"
)

// Homework is a teacher-authored, multi-day assignment for a class.
type Homework struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	SchoolID              *uint          `gorm:"index" json:"school_id"`
	ClassID               uint           `gorm:"index;not null" json:"class_id"`
	TeacherID             uint           `gorm:"index;not null" json:"teacher_id"`
	Title                 string         `gorm:"size:255;not null" json:"title"`
	Description           string         `gorm:"type:text" json:"description"`
	Status                HomeworkStatus `gorm:"size:32;not null;default:draft" json:"status"`
	DueDate               time.Time      `gorm:"not null" json:"due_date"`
	AICheckEnabled        bool           `gorm:"not null;default:false" json:"ai_check_enabled"`
	LateSubmissionAllowed bool           `gorm:"not null;default:false" json:"late_submission_allowed"`
	GracePeriodHours      int            `gorm:"not null;default:0" json:"grace_period_hours"`
	LatePenaltyPerDay     float64        `gorm:"not null;default:0" json:"late_penalty_per_day"`
	MaxLateDays           int            `gorm:"not null;default:0" json:"max_late_days"`
	PublishedAt           *time.Time     `json:"published_at"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Tasks                 []HomeworkTask `json:"tasks,omitempty"`
}

// HomeworkTask is one unit of work inside a homework with its own attempt budget.
type HomeworkTask struct {
	ID           uint                   `gorm:"primaryKey" json:"id"`
	HomeworkID   uint                   `gorm:"index;not null" json:"homework_id"`
	ParagraphID  *uint                  `gorm:"index" json:"paragraph_id"`
	Title        string                 `gorm:"size:255;not null" json:"title"`
	Instructions string                 `gorm:"type:text" json:"instructions"`
	SortOrder    int                    `gorm:"default:0" json:"sort_order"`
	MaxAttempts  int                    `gorm:"not null;default:1" json:"max_attempts"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Homework     Homework               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Questions    []HomeworkTaskQuestion `gorm:"foreignKey:TaskID" json:"questions,omitempty"`
}

// HomeworkOption is an embedded choice option; IDs are ordinal within the question.
type HomeworkOption struct {
	ID        uint   `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// HomeworkTaskQuestion is one immutable version of a logical question slot.
// SlotID is the id of the slot's first version and is shared by every later version.
type HomeworkTaskQuestion struct {
	ID            uint                                `gorm:"primaryKey" json:"id"`
	TaskID        uint                                `gorm:"index;not null" json:"task_id"`
	SlotID        uint                                `gorm:"index;not null;default:0" json:"slot_id"`
	QuestionType  QuestionType                        `gorm:"size:32;not null" json:"question_type"`
	QuestionText  string                              `gorm:"type:text;not null" json:"question_text"`
	Options       datatypes.JSONSlice[HomeworkOption] `json:"options"`
	CorrectAnswer string                              `gorm:"type:text" json:"correct_answer"`
	Rubric        string                              `gorm:"type:text" json:"rubric"`
	Points        float64                             `gorm:"not null" json:"points"`
	SortOrder     int                                 `gorm:"default:0" json:"sort_order"`
	Version       int                                 `gorm:"not null;default:1" json:"version"`
	IsActive      bool                                `gorm:"not null;index" json:"is_active"`
	ReplacedByID  *uint                               `json:"replaced_by_id"`
	CreatedAt     time.Time                           `json:"created_at"`
	UpdatedAt     time.Time                           `json:"updated_at"`
}

// CorrectOptionIDs lists ids of options flagged correct.
func (q HomeworkTaskQuestion) CorrectOptionIDs() []uint {
	ids := make([]uint, 0, 1)
	for _, option := range q.Options {
		if option.IsCorrect {
			ids = append(ids, option.ID)
		}
	}
	return ids
}

// HomeworkStudent is a roster entry recorded when a homework is published.
type HomeworkStudent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	HomeworkID uint      `gorm:"not null;uniqueIndex:idx_homework_student,priority:1" json:"homework_id"`
	StudentID  uint      `gorm:"not null;uniqueIndex:idx_homework_student,priority:2" json:"student_id"`
	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`
}
