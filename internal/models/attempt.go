package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptStatus enumerates the lifecycle states of a test attempt.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusAbandoned  AttemptStatus = "ABANDONED"
)

// IsTerminal reports whether no further transition is allowed.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusAbandoned
}

// TestAttempt is one student's run of one test. Rows are never deleted.
type TestAttempt struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	StudentID        uint                `gorm:"not null;uniqueIndex:idx_attempt_number,priority:1;index:idx_attempt_student_status" json:"student_id"`
	TestID           uint                `gorm:"not null;uniqueIndex:idx_attempt_number,priority:2" json:"test_id"`
	AttemptNumber    int                 `gorm:"not null;uniqueIndex:idx_attempt_number,priority:3" json:"attempt_number"`
	SchoolID         uint                `gorm:"index" json:"school_id"`
	Status           AttemptStatus       `gorm:"size:32;not null;index:idx_attempt_student_status" json:"status"`
	StartedAt        time.Time           `gorm:"not null" json:"started_at"`
	CompletedAt      *time.Time          `json:"completed_at"`
	Score            float64             `gorm:"not null;default:0" json:"score"`
	PointsEarned     float64             `gorm:"not null;default:0" json:"points_earned"`
	TotalPoints      float64             `gorm:"not null;default:0" json:"total_points"`
	Passed           bool                `gorm:"not null;default:false" json:"passed"`
	TimeSpentSeconds int                 `gorm:"not null;default:0" json:"time_spent_seconds"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Test             Test                `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Answers          []TestAttemptAnswer `gorm:"foreignKey:AttemptID" json:"answers,omitempty"`
}

// TestAttemptAnswer stores one graded answer; (attempt, question) is unique.
type TestAttemptAnswer struct {
	ID                uint                      `gorm:"primaryKey" json:"id"`
	AttemptID         uint                      `gorm:"not null;uniqueIndex:idx_attempt_question,priority:1" json:"attempt_id"`
	QuestionID        uint                      `gorm:"not null;uniqueIndex:idx_attempt_question,priority:2" json:"question_id"`
	SelectedOptionIDs datatypes.JSONSlice[uint] `json:"selected_option_ids"`
	AnswerText        string                    `gorm:"type:text" json:"answer_text"`
	IsCorrect         bool                      `gorm:"not null;default:false" json:"is_correct"`
	PointsEarned      float64                   `gorm:"not null;default:0" json:"points_earned"`
	AnsweredAt        time.Time                 `gorm:"not null" json:"answered_at"`
}
