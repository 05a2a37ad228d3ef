package ai

import "context"

// GradingInput contains what the model needs to grade one open-ended answer.
type GradingInput struct {
	QuestionText    string
	Rubric          string
	ReferenceAnswer string
	AnswerText      string
	MaxPoints       float64
	Language        string
}

// GradingResult is the structured verdict returned by the AI grader.
// Score and Confidence are fractions in [0,1].
type GradingResult struct {
	Score        float64                `json:"score"`
	Confidence   float64                `json:"confidence"`
	Feedback     string                 `json:"feedback"`
	RubricScores map[string]float64     `json:"rubric_scores,omitempty"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// Grader describes an AI model capable of grading open-ended answers.
type Grader interface {
	Grade(ctx context.Context, input GradingInput) (GradingResult, error)
}
