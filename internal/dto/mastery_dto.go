package dto

import (
	"time"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// ParagraphMasteryResponse describes a student's mastery of one paragraph.
type ParagraphMasteryResponse struct {
	StudentID           uint                   `json:"student_id"`
	ParagraphID         uint                   `json:"paragraph_id"`
	ChapterID           uint                   `json:"chapter_id"`
	AverageScore        float64                `json:"average_score"`
	BestScore           float64                `json:"best_score"`
	AttemptsCount       int                    `json:"attempts_count"`
	SelfAssessmentDelta float64                `json:"self_assessment_delta"`
	MasteryScore        float64                `json:"mastery_score"`
	IsCompleted         bool                   `json:"is_completed"`
	Status              models.ParagraphStatus `json:"status"`
	TimeSpentSeconds    int                    `json:"time_spent_seconds"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// NewParagraphMasteryResponse maps a paragraph mastery row.
func NewParagraphMasteryResponse(mastery models.ParagraphMastery) ParagraphMasteryResponse {
	return ParagraphMasteryResponse{
		StudentID:           mastery.StudentID,
		ParagraphID:         mastery.ParagraphID,
		ChapterID:           mastery.ChapterID,
		AverageScore:        mastery.AverageScore,
		BestScore:           mastery.BestScore,
		AttemptsCount:       mastery.AttemptsCount,
		SelfAssessmentDelta: mastery.SelfAssessmentDelta,
		MasteryScore:        mastery.MasteryScore,
		IsCompleted:         mastery.IsCompleted,
		Status:              mastery.Status,
		TimeSpentSeconds:    mastery.TimeSpentSeconds,
		CompletedAt:         mastery.CompletedAt,
		UpdatedAt:           mastery.UpdatedAt,
	}
}

// ChapterMasteryResponse describes a student's rolled-up chapter mastery.
type ChapterMasteryResponse struct {
	StudentID            uint                       `json:"student_id"`
	ChapterID            uint                       `json:"chapter_id"`
	TotalParagraphs      int                        `json:"total_paragraphs"`
	CompletedParagraphs  int                        `json:"completed_paragraphs"`
	MasteredParagraphs   int                        `json:"mastered_paragraphs"`
	StrugglingParagraphs int                        `json:"struggling_paragraphs"`
	ProgressPercentage   float64                    `json:"progress_percentage"`
	MasteryScore         float64                    `json:"mastery_score"`
	MasteryLevel         models.MasteryLevel        `json:"mastery_level"`
	SummativeScore       *float64                   `json:"summative_score,omitempty"`
	SummativePassed      *bool                      `json:"summative_passed,omitempty"`
	UpdatedAt            time.Time                  `json:"updated_at"`
	Paragraphs           []ParagraphMasteryResponse `json:"paragraphs,omitempty"`
}

// NewChapterMasteryResponse maps a chapter mastery row and optional paragraph rows.
func NewChapterMasteryResponse(mastery models.ChapterMastery, paragraphs []models.ParagraphMastery) ChapterMasteryResponse {
	response := ChapterMasteryResponse{
		StudentID:            mastery.StudentID,
		ChapterID:            mastery.ChapterID,
		TotalParagraphs:      mastery.TotalParagraphs,
		CompletedParagraphs:  mastery.CompletedParagraphs,
		MasteredParagraphs:   mastery.MasteredParagraphs,
		StrugglingParagraphs: mastery.StrugglingParagraphs,
		ProgressPercentage:   mastery.ProgressPercentage,
		MasteryScore:         mastery.MasteryScore,
		MasteryLevel:         mastery.MasteryLevel,
		SummativeScore:       mastery.SummativeScore,
		SummativePassed:      mastery.SummativePassed,
		UpdatedAt:            mastery.UpdatedAt,
	}
	for _, paragraph := range paragraphs {
		response.Paragraphs = append(response.Paragraphs, NewParagraphMasteryResponse(paragraph))
	}
	return response
}

// MasteryOverviewResponse summarises every chapter a student has mastery data for.
type MasteryOverviewResponse struct {
	StudentID      uint                        `json:"student_id"`
	Chapters       []ChapterMasteryResponse    `json:"chapters"`
	AverageMastery float64                     `json:"average_mastery"`
	LevelCounts    map[models.MasteryLevel]int `json:"level_counts"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// SelfAssessmentRequest records how well a student thinks they understood a paragraph.
type SelfAssessmentRequest struct {
	ParagraphID uint   `json:"paragraph_id" validate:"required"`
	Rating      string `json:"rating" validate:"required,oneof=understood questions difficult"`
}

// SelfAssessmentResponse echoes the record and the recomputed paragraph mastery.
type SelfAssessmentResponse struct {
	ID                 uint                        `json:"id"`
	ParagraphID        uint                        `json:"paragraph_id"`
	Rating             models.SelfAssessmentRating `json:"rating"`
	MasteryImpact      float64                     `json:"mastery_impact"`
	NextRecommendation models.NextRecommendation   `json:"next_recommendation"`
	CreatedAt          time.Time                   `json:"created_at"`
	Mastery            *ParagraphMasteryResponse   `json:"mastery,omitempty"`
}

// NewSelfAssessmentResponse maps a self-assessment record.
func NewSelfAssessmentResponse(record models.SelfAssessment) SelfAssessmentResponse {
	return SelfAssessmentResponse{
		ID:                 record.ID,
		ParagraphID:        record.ParagraphID,
		Rating:             record.Rating,
		MasteryImpact:      record.MasteryImpact,
		NextRecommendation: record.NextRecommendation,
		CreatedAt:          record.CreatedAt,
	}
}

// CompletionSignalRequest marks a paragraph's learning step as completed.
type CompletionSignalRequest struct {
	ParagraphID uint `json:"paragraph_id" validate:"required"`
}

// MasteryRecomputeRequest replays a student's history for one paragraph.
type MasteryRecomputeRequest struct {
	StudentID   uint `json:"student_id" validate:"required"`
	ParagraphID uint `json:"paragraph_id" validate:"required"`
}
