package models

import "time"

// ParagraphStatus is derived from the score history on every recompute.
type ParagraphStatus string

const (
	ParagraphStatusNotStarted ParagraphStatus = "not_started"
	ParagraphStatusInProgress ParagraphStatus = "in_progress"
	ParagraphStatusMastered   ParagraphStatus = "mastered"
	ParagraphStatusStruggling ParagraphStatus = "struggling"
)

// MasteryLevel is the A/B/C chapter tier.
type MasteryLevel string

const (
	MasteryLevelA MasteryLevel = "A"
	MasteryLevelB MasteryLevel = "B"
	MasteryLevelC MasteryLevel = "C"
)

// ParagraphMastery is the per (student, paragraph) mastery record.
type ParagraphMastery struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	StudentID           uint            `gorm:"not null;uniqueIndex:idx_paragraph_mastery,priority:1;index:idx_paragraph_mastery_chapter,priority:1" json:"student_id"`
	ParagraphID         uint            `gorm:"not null;uniqueIndex:idx_paragraph_mastery,priority:2" json:"paragraph_id"`
	ChapterID           uint            `gorm:"not null;index:idx_paragraph_mastery_chapter,priority:2" json:"chapter_id"`
	AverageScore        float64         `gorm:"not null;default:0" json:"average_score"`
	BestScore           float64         `gorm:"not null;default:0" json:"best_score"`
	AttemptsCount       int             `gorm:"not null;default:0" json:"attempts_count"`
	SelfAssessmentDelta float64         `gorm:"not null;default:0" json:"self_assessment_delta"`
	MasteryScore        float64         `gorm:"not null;default:0" json:"mastery_score"`
	IsCompleted         bool            `gorm:"not null;default:false" json:"is_completed"`
	Status              ParagraphStatus `gorm:"size:32;not null;default:not_started" json:"status"`
	TimeSpentSeconds    int             `gorm:"not null;default:0" json:"time_spent_seconds"`
	CompletedAt         *time.Time      `json:"completed_at"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// HasActivity reports whether any attempt or self-assessment contributed to the record.
func (m ParagraphMastery) HasActivity() bool {
	return m.AttemptsCount > 0 || m.SelfAssessmentDelta != 0 || m.IsCompleted
}

// ChapterMastery is rolled up from paragraph mastery and the chapter's summative result.
type ChapterMastery struct {
	ID                   uint         `gorm:"primaryKey" json:"id"`
	StudentID            uint         `gorm:"not null;uniqueIndex:idx_chapter_mastery,priority:1" json:"student_id"`
	ChapterID            uint         `gorm:"not null;uniqueIndex:idx_chapter_mastery,priority:2" json:"chapter_id"`
	TotalParagraphs      int          `gorm:"not null;default:0" json:"total_paragraphs"`
	CompletedParagraphs  int          `gorm:"not null;default:0" json:"completed_paragraphs"`
	MasteredParagraphs   int          `gorm:"not null;default:0" json:"mastered_paragraphs"`
	StrugglingParagraphs int          `gorm:"not null;default:0" json:"struggling_paragraphs"`
	ProgressPercentage   float64      `gorm:"not null;default:0" json:"progress_percentage"`
	MasteryScore         float64      `gorm:"not null;default:0" json:"mastery_score"`
	MasteryLevel         MasteryLevel `gorm:"size:1;not null;default:C" json:"mastery_level"`
	SummativeScore       *float64     `json:"summative_score"`
	SummativePassed      *bool        `json:"summative_passed"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// SelfAssessmentRating is the student's own confidence report.
type SelfAssessmentRating string

const (
	SelfAssessmentUnderstood SelfAssessmentRating = "understood"
	SelfAssessmentQuestions  SelfAssessmentRating = "questions"
	SelfAssessmentDifficult  SelfAssessmentRating = "difficult"
)

// NextRecommendation tells the client where to send the student after a self-assessment.
type NextRecommendation string

const (
	RecommendNextParagraph NextRecommendation = "next_paragraph"
	RecommendChatTutor     NextRecommendation = "chat_tutor"
	RecommendReview        NextRecommendation = "review"
)

// SelfAssessment is append-only; prior records are never edited.
type SelfAssessment struct {
	ID                 uint                 `gorm:"primaryKey" json:"id"`
	StudentID          uint                 `gorm:"not null;index:idx_self_assessment_paragraph,priority:1" json:"student_id"`
	ParagraphID        uint                 `gorm:"not null;index:idx_self_assessment_paragraph,priority:2" json:"paragraph_id"`
	SchoolID           uint                 `gorm:"index" json:"school_id"`
	Rating             SelfAssessmentRating `gorm:"size:32;not null" json:"rating"`
	MasteryImpact      float64              `gorm:"not null" json:"mastery_impact"`
	NextRecommendation NextRecommendation   `gorm:"size:32;not null" json:"next_recommendation"`
	CreatedAt          time.Time            `json:"created_at"`
}
