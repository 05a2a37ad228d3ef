package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus enumerates the states of a homework task submission.
type SubmissionStatus string

const (
	SubmissionStatusInProgress  SubmissionStatus = "IN_PROGRESS"
	SubmissionStatusGraded      SubmissionStatus = "GRADED"
	SubmissionStatusNeedsReview SubmissionStatus = "NEEDS_REVIEW"
)

// StudentTaskSubmission is one attempt at one homework task by one student.
type StudentTaskSubmission struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	HomeworkID         uint                `gorm:"index;not null" json:"homework_id"`
	TaskID             uint                `gorm:"not null;uniqueIndex:idx_task_submission_attempt,priority:2" json:"task_id"`
	StudentID          uint                `gorm:"not null;uniqueIndex:idx_task_submission_attempt,priority:1" json:"student_id"`
	AttemptNumber      int                 `gorm:"not null;uniqueIndex:idx_task_submission_attempt,priority:3" json:"attempt_number"`
	Status             SubmissionStatus    `gorm:"size:32;not null" json:"status"`
	StartedAt          time.Time           `gorm:"not null" json:"started_at"`
	SubmittedAt        *time.Time          `json:"submitted_at"`
	IsLate             bool                `gorm:"not null;default:false" json:"is_late"`
	LatePenaltyApplied float64             `gorm:"not null;default:0" json:"late_penalty_applied"`
	OriginalScore      *float64            `json:"original_score"`
	Score              float64             `gorm:"not null;default:0" json:"score"`
	MaxScore           float64             `gorm:"not null;default:0" json:"max_score"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Task               HomeworkTask        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Answers            []StudentTaskAnswer `gorm:"foreignKey:SubmissionID" json:"answers,omitempty"`
}

// StudentTaskAnswer is one answer against one question version; (submission, question) is unique.
type StudentTaskAnswer struct {
	ID                   uint                      `gorm:"primaryKey" json:"id"`
	SubmissionID         uint                      `gorm:"not null;uniqueIndex:idx_submission_question,priority:1" json:"submission_id"`
	QuestionID           uint                      `gorm:"not null;uniqueIndex:idx_submission_question,priority:2" json:"question_id"`
	SelectedOptionIDs    datatypes.JSONSlice[uint] `json:"selected_option_ids"`
	AnswerText           string                    `gorm:"type:text" json:"answer_text"`
	IsCorrect            *bool                     `json:"is_correct"`
	Score                float64                   `gorm:"not null;default:0" json:"score"`
	MaxScore             float64                   `gorm:"not null;default:0" json:"max_score"`
	AIScore              *float64                  `json:"ai_score"`
	AIConfidence         *float64                  `json:"ai_confidence"`
	AIFeedback           string                    `gorm:"type:text" json:"ai_feedback"`
	AIRubricScores       datatypes.JSONMap         `json:"ai_rubric_scores"`
	FlaggedForReview     bool                      `gorm:"not null;default:false" json:"flagged_for_review"`
	TeacherOverrideScore *float64                  `json:"teacher_override_score"`
	TeacherComment       string                    `gorm:"type:text" json:"teacher_comment"`
	ReviewedBy           *uint                     `json:"reviewed_by"`
	ReviewedAt           *time.Time                `json:"reviewed_at"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
	Question             HomeworkTaskQuestion      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

// EffectiveScore returns the teacher override when present, otherwise the automatic score.
func (a StudentTaskAnswer) EffectiveScore() float64 {
	if a.TeacherOverrideScore != nil {
		return *a.TeacherOverrideScore
	}
	return a.Score
}

// AnswerReviewHistory is an append-only audit entry of a teacher override.
type AnswerReviewHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AnswerID      uint      `gorm:"index;not null" json:"answer_id"`
	SubmissionID  uint      `gorm:"index;not null" json:"submission_id"`
	PreviousScore float64   `gorm:"not null" json:"previous_score"`
	Score         float64   `gorm:"not null" json:"score"`
	Comment       string    `gorm:"type:text" json:"comment"`
	ReviewedBy    uint      `gorm:"not null" json:"reviewed_by"`
	ReviewedAt    time.Time `gorm:"not null" json:"reviewed_at"`
}
