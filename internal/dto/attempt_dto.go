package dto

import (
	"time"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// AttemptStartRequest starts a new attempt of a test.
type AttemptStartRequest struct {
	TestID uint `json:"test_id" validate:"required"`
}

// AttemptAnswerRequest answers one question of an attempt.
type AttemptAnswerRequest struct {
	QuestionID        uint   `json:"question_id" validate:"required"`
	SelectedOptionIDs []uint `json:"selected_option_ids" validate:"omitempty,max=20,dive,required"`
	AnswerText        string `json:"answer_text" validate:"max=2000"`
}

// AttemptSubmitRequest submits every answer of an attempt at once.
type AttemptSubmitRequest struct {
	Answers []AttemptAnswerRequest `json:"answers" validate:"max=200,dive"`
}

// AttemptOptionView is a choice option without its correctness flag.
type AttemptOptionView struct {
	ID   uint   `json:"id"`
	Text string `json:"text"`
}

// AttemptQuestionView is what a student sees while an attempt is running.
type AttemptQuestionView struct {
	ID           uint                `json:"id"`
	QuestionType models.QuestionType `json:"question_type"`
	Text         string              `json:"text"`
	Points       float64             `json:"points"`
	SortOrder    int                 `json:"sort_order"`
	Options      []AttemptOptionView `json:"options,omitempty"`
}

// NewAttemptQuestionViews strips correct answers, correctness flags and explanations.
func NewAttemptQuestionViews(questions []models.Question) []AttemptQuestionView {
	views := make([]AttemptQuestionView, 0, len(questions))
	for _, question := range questions {
		options := make([]AttemptOptionView, 0, len(question.Options))
		for _, option := range question.Options {
			options = append(options, AttemptOptionView{ID: option.ID, Text: option.Text})
		}
		views = append(views, AttemptQuestionView{
			ID:           question.ID,
			QuestionType: question.QuestionType,
			Text:         question.Text,
			Points:       question.Points,
			SortOrder:    question.SortOrder,
			Options:      options,
		})
	}
	return views
}

// AttemptAnswerResponse describes a recorded answer.
type AttemptAnswerResponse struct {
	QuestionID        uint      `json:"question_id"`
	SelectedOptionIDs []uint    `json:"selected_option_ids"`
	AnswerText        string    `json:"answer_text,omitempty"`
	IsCorrect         bool      `json:"is_correct"`
	PointsEarned      float64   `json:"points_earned"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// AttemptResponse describes an attempt and its outcome.
type AttemptResponse struct {
	ID               uint                    `json:"id"`
	TestID           uint                    `json:"test_id"`
	StudentID        uint                    `json:"student_id"`
	AttemptNumber    int                     `json:"attempt_number"`
	Status           models.AttemptStatus    `json:"status"`
	StartedAt        time.Time               `json:"started_at"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	Score            float64                 `json:"score"`
	PointsEarned     float64                 `json:"points_earned"`
	TotalPoints      float64                 `json:"total_points"`
	Passed           bool                    `json:"passed"`
	TimeSpentSeconds int                     `json:"time_spent_seconds"`
	Answers          []AttemptAnswerResponse `json:"answers,omitempty"`
}

// NewAttemptResponse maps an attempt with its loaded answers.
func NewAttemptResponse(attempt models.TestAttempt) AttemptResponse {
	answers := make([]AttemptAnswerResponse, 0, len(attempt.Answers))
	for _, answer := range attempt.Answers {
		answers = append(answers, AttemptAnswerResponse{
			QuestionID:        answer.QuestionID,
			SelectedOptionIDs: []uint(answer.SelectedOptionIDs),
			AnswerText:        answer.AnswerText,
			IsCorrect:         answer.IsCorrect,
			PointsEarned:      answer.PointsEarned,
			AnsweredAt:        answer.AnsweredAt,
		})
	}

	return AttemptResponse{
		ID:               attempt.ID,
		TestID:           attempt.TestID,
		StudentID:        attempt.StudentID,
		AttemptNumber:    attempt.AttemptNumber,
		Status:           attempt.Status,
		StartedAt:        attempt.StartedAt,
		CompletedAt:      attempt.CompletedAt,
		Score:            attempt.Score,
		PointsEarned:     attempt.PointsEarned,
		TotalPoints:      attempt.TotalPoints,
		Passed:           attempt.Passed,
		TimeSpentSeconds: attempt.TimeSpentSeconds,
		Answers:          answers,
	}
}

// AttemptStartResponse carries the new attempt and its sanitized questions.
type AttemptStartResponse struct {
	Attempt          AttemptResponse       `json:"attempt"`
	Title            string                `json:"title"`
	TimeLimitMinutes *int                  `json:"time_limit_minutes,omitempty"`
	Questions        []AttemptQuestionView `json:"questions"`
}

// AnswerFeedbackResponse is the immediate feedback of the incremental mode.
type AnswerFeedbackResponse struct {
	QuestionID       uint             `json:"question_id"`
	IsCorrect        bool             `json:"is_correct"`
	CorrectOptionIDs []uint           `json:"correct_option_ids"`
	CorrectAnswer    string           `json:"correct_answer,omitempty"`
	Explanation      string           `json:"explanation,omitempty"`
	PointsEarned     float64          `json:"points_earned"`
	AnsweredCount    int              `json:"answered_count"`
	TotalQuestions   int              `json:"total_questions"`
	AttemptCompleted bool             `json:"attempt_completed"`
	Attempt          *AttemptResponse `json:"attempt,omitempty"`
}

// AttemptSweepRequest abandons attempts that have been open for too long.
type AttemptSweepRequest struct {
	OlderThanMinutes int `json:"older_than_minutes" validate:"required,gte=1"`
	Limit            int `json:"limit" validate:"omitempty,gte=1,lte=1000"`
}

// AttemptSweepResponse reports how many attempts were abandoned.
type AttemptSweepResponse struct {
	Abandoned int `json:"abandoned"`
}
