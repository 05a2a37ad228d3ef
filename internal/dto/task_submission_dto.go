package dto

import (
	"time"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// TaskAnswerRequest saves one answer of a homework task submission.
type TaskAnswerRequest struct {
	QuestionID        uint   `json:"question_id" validate:"required"`
	SelectedOptionIDs []uint `json:"selected_option_ids" validate:"omitempty,max=20,dive,required"`
	AnswerText        string `json:"answer_text" validate:"max=10000"`
}

// AnswerReviewRequest overrides the automatic score of an answer.
type AnswerReviewRequest struct {
	Score   *float64 `json:"score" validate:"required"`
	Comment string   `json:"comment" validate:"max=5000"`
}

// TaskAnswerResponse describes a homework answer and its grading state.
type TaskAnswerResponse struct {
	ID                   uint               `json:"id"`
	QuestionID           uint               `json:"question_id"`
	SlotID               uint               `json:"slot_id"`
	QuestionVersion      int                `json:"question_version"`
	SelectedOptionIDs    []uint             `json:"selected_option_ids"`
	AnswerText           string             `json:"answer_text,omitempty"`
	IsCorrect            *bool              `json:"is_correct"`
	Score                float64            `json:"score"`
	MaxScore             float64            `json:"max_score"`
	EffectiveScore       float64            `json:"effective_score"`
	AIScore              *float64           `json:"ai_score,omitempty"`
	AIConfidence         *float64           `json:"ai_confidence,omitempty"`
	AIFeedback           string             `json:"ai_feedback,omitempty"`
	AIRubricScores       map[string]float64 `json:"ai_rubric_scores,omitempty"`
	FlaggedForReview     bool               `json:"flagged_for_review"`
	TeacherOverrideScore *float64           `json:"teacher_override_score,omitempty"`
	TeacherComment       string             `json:"teacher_comment,omitempty"`
	ReviewedBy           *uint              `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time         `json:"reviewed_at,omitempty"`
}

// NewTaskAnswerResponse maps an answer; the question association must be loaded for slot data.
func NewTaskAnswerResponse(answer models.StudentTaskAnswer) TaskAnswerResponse {
	var rubric map[string]float64
	if len(answer.AIRubricScores) > 0 {
		rubric = make(map[string]float64, len(answer.AIRubricScores))
		for key, value := range answer.AIRubricScores {
			if number, ok := value.(float64); ok {
				rubric[key] = number
			}
		}
	}

	return TaskAnswerResponse{
		ID:                   answer.ID,
		QuestionID:           answer.QuestionID,
		SlotID:               answer.Question.SlotID,
		QuestionVersion:      answer.Question.Version,
		SelectedOptionIDs:    []uint(answer.SelectedOptionIDs),
		AnswerText:           answer.AnswerText,
		IsCorrect:            answer.IsCorrect,
		Score:                answer.Score,
		MaxScore:             answer.MaxScore,
		EffectiveScore:       answer.EffectiveScore(),
		AIScore:              answer.AIScore,
		AIConfidence:         answer.AIConfidence,
		AIFeedback:           answer.AIFeedback,
		AIRubricScores:       rubric,
		FlaggedForReview:     answer.FlaggedForReview,
		TeacherOverrideScore: answer.TeacherOverrideScore,
		TeacherComment:       answer.TeacherComment,
		ReviewedBy:           answer.ReviewedBy,
		ReviewedAt:           answer.ReviewedAt,
	}
}

// TaskSubmissionResponse describes a homework task submission.
type TaskSubmissionResponse struct {
	ID                 uint                    `json:"id"`
	HomeworkID         uint                    `json:"homework_id"`
	TaskID             uint                    `json:"task_id"`
	StudentID          uint                    `json:"student_id"`
	AttemptNumber      int                     `json:"attempt_number"`
	Status             models.SubmissionStatus `json:"status"`
	StartedAt          time.Time               `json:"started_at"`
	SubmittedAt        *time.Time              `json:"submitted_at,omitempty"`
	IsLate             bool                    `json:"is_late"`
	LatePenaltyApplied float64                 `json:"late_penalty_applied"`
	OriginalScore      *float64                `json:"original_score,omitempty"`
	Score              float64                 `json:"score"`
	MaxScore           float64                 `json:"max_score"`
	Answers            []TaskAnswerResponse    `json:"answers,omitempty"`
}

// NewTaskSubmissionResponse maps a submission with its loaded answers.
func NewTaskSubmissionResponse(submission models.StudentTaskSubmission) TaskSubmissionResponse {
	response := TaskSubmissionResponse{
		ID:                 submission.ID,
		HomeworkID:         submission.HomeworkID,
		TaskID:             submission.TaskID,
		StudentID:          submission.StudentID,
		AttemptNumber:      submission.AttemptNumber,
		Status:             submission.Status,
		StartedAt:          submission.StartedAt,
		SubmittedAt:        submission.SubmittedAt,
		IsLate:             submission.IsLate,
		LatePenaltyApplied: submission.LatePenaltyApplied,
		OriginalScore:      submission.OriginalScore,
		Score:              submission.Score,
		MaxScore:           submission.MaxScore,
	}
	for _, answer := range submission.Answers {
		response.Answers = append(response.Answers, NewTaskAnswerResponse(answer))
	}
	return response
}

// TaskStartResponse carries the submission and the questions to answer.
type TaskStartResponse struct {
	Submission   TaskSubmissionResponse `json:"submission"`
	Questions    []HomeworkQuestionView `json:"questions"`
	AttemptsUsed int                    `json:"attempts_used"`
	MaxAttempts  int                    `json:"max_attempts"`
	DueDate      time.Time              `json:"due_date"`
}

// AnswerReviewHistoryResponse is one audit entry of a teacher override.
type AnswerReviewHistoryResponse struct {
	PreviousScore float64   `json:"previous_score"`
	Score         float64   `json:"score"`
	Comment       string    `json:"comment,omitempty"`
	ReviewedBy    uint      `json:"reviewed_by"`
	ReviewedAt    time.Time `json:"reviewed_at"`
}

// AnswerReviewResponse returns the reviewed answer, its submission and the full audit trail.
type AnswerReviewResponse struct {
	Answer     TaskAnswerResponse            `json:"answer"`
	Submission TaskSubmissionResponse        `json:"submission"`
	History    []AnswerReviewHistoryResponse `json:"history"`
}

// NewAnswerReviewHistory maps audit entries.
func NewAnswerReviewHistory(entries []models.AnswerReviewHistory) []AnswerReviewHistoryResponse {
	history := make([]AnswerReviewHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		history = append(history, AnswerReviewHistoryResponse{
			PreviousScore: entry.PreviousScore,
			Score:         entry.Score,
			Comment:       entry.Comment,
			ReviewedBy:    entry.ReviewedBy,
			ReviewedAt:    entry.ReviewedAt,
		})
	}
	return history
}
