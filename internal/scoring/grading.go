// Package scoring holds the pure grading and mastery policies shared by tests and homework.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

// DefaultReviewThreshold is the AI confidence below which an answer goes to a teacher.
const DefaultReviewThreshold = 0.7

// DefaultAITimeout bounds a single AI grading call.
const DefaultAITimeout = 20 * time.Second

// ErrUnsupportedQuestionType is returned for question types outside the closed set.
var ErrUnsupportedQuestionType = errors.New("unsupported question type")

// ErrOpenEndedNeedsPolicy is returned when an open-ended question reaches the deterministic path.
var ErrOpenEndedNeedsPolicy = errors.New("open-ended questions require an ai grading policy")

// Question is the grading view of a test or homework question.
type Question struct {
	Type             models.QuestionType
	Points           float64
	CorrectOptionIDs []uint
	CorrectAnswer    string
	Text             string
	Rubric           string
}

// Answer is what the student submitted for one question.
type Answer struct {
	SelectedOptionIDs []uint
	Text              string
}

// AIOutcome records what the AI capability returned, or that it failed.
type AIOutcome struct {
	Score        float64
	Confidence   float64
	Feedback     string
	RubricScores map[string]float64
	Failed       bool
}

// Result is the outcome of grading one answer. IsCorrect is nil for open-ended answers.
type Result struct {
	IsCorrect *bool
	Score     float64
	MaxScore  float64
	Flagged   bool
	AI        *AIOutcome
}

// OpenEndedPolicy controls how open-ended answers are routed.
type OpenEndedPolicy struct {
	AICheckEnabled  bool
	ReviewThreshold float64
	Timeout         time.Duration
	Language        string
}

func (p OpenEndedPolicy) threshold() float64 {
	if p.ReviewThreshold <= 0 {
		return DefaultReviewThreshold
	}
	return p.ReviewThreshold
}

func (p OpenEndedPolicy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultAITimeout
	}
	return p.Timeout
}

// Grade grades a deterministic question type.
func Grade(q Question, a Answer) (Result, error) {
	var correct bool
	switch {
	case q.Type.IsChoice():
		correct = GradeChoice(a.SelectedOptionIDs, q.CorrectOptionIDs)
	case q.Type == models.QuestionTypeShortAnswer:
		correct = GradeShortAnswer(a.Text, q.CorrectAnswer)
	case q.Type == models.QuestionTypeOpenEnded:
		return Result{}, ErrOpenEndedNeedsPolicy
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedQuestionType, q.Type)
	}

	result := Result{IsCorrect: &correct, MaxScore: q.Points}
	if correct {
		result.Score = q.Points
	}
	return result, nil
}

// GradeAnswer grades any question type, routing open-ended answers through the AI policy.
func GradeAnswer(ctx context.Context, grader ai.Grader, policy OpenEndedPolicy, q Question, a Answer) (Result, error) {
	if q.Type == models.QuestionTypeOpenEnded {
		return GradeOpenEnded(ctx, grader, policy, q, a.Text), nil
	}
	return Grade(q, a)
}

// GradeChoice is set equality between the selected and correct option ids.
// An empty selection is never correct.
func GradeChoice(selected, correct []uint) bool {
	if len(selected) == 0 {
		return false
	}
	want := make(map[uint]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	got := make(map[uint]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := want[id]; !ok {
			return false
		}
		got[id] = struct{}{}
	}
	return len(got) == len(want)
}

// GradeShortAnswer compares trimmed, lower-cased strings exactly.
func GradeShortAnswer(submitted, canonical string) bool {
	return normalizeText(submitted) == normalizeText(canonical)
}

func normalizeText(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// GradeOpenEnded applies the review policy around the AI capability. It never fails:
// a disabled check, a missing grader, an error or a timeout all yield a flagged zero score.
func GradeOpenEnded(ctx context.Context, grader ai.Grader, policy OpenEndedPolicy, q Question, text string) Result {
	result := Result{MaxScore: q.Points}
	if !policy.AICheckEnabled {
		result.Flagged = true
		return result
	}

	outcome := callGrader(ctx, grader, policy, q, text)
	result.AI = &outcome
	result.Score = clampUnit(outcome.Score) * q.Points
	result.Flagged = outcome.Confidence < policy.threshold()
	return result
}

func callGrader(ctx context.Context, grader ai.Grader, policy OpenEndedPolicy, q Question, text string) AIOutcome {
	if grader == nil {
		return AIOutcome{Failed: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, policy.timeout())
	defer cancel()

	graded, err := grader.Grade(callCtx, ai.GradingInput{
		QuestionText:    q.Text,
		Rubric:          q.Rubric,
		ReferenceAnswer: q.CorrectAnswer,
		AnswerText:      text,
		MaxPoints:       q.Points,
		Language:        policy.Language,
	})
	if err != nil {
		return AIOutcome{Failed: true}
	}

	return AIOutcome{
		Score:        clampUnit(graded.Score),
		Confidence:   clampUnit(graded.Confidence),
		Feedback:     graded.Feedback,
		RubricScores: graded.RubricScores,
	}
}

func clampUnit(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// ScoreFraction returns earned/total, treating a zero total as a zero score.
func ScoreFraction(earned, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return earned / total
}
