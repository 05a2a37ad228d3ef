package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

type stubGrader struct {
	result ai.GradingResult
	err    error
	delay  time.Duration
	calls  int
}

func (s *stubGrader) Grade(ctx context.Context, input ai.GradingInput) (ai.GradingResult, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ai.GradingResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return ai.GradingResult{}, s.err
	}
	return s.result, nil
}

func TestGradeChoicePermutationsAreCorrect(t *testing.T) {
	correct := []uint{3, 7, 9}
	permutations := [][]uint{{3, 7, 9}, {9, 7, 3}, {7, 3, 9}, {9, 3, 7}}
	for _, selected := range permutations {
		require.True(t, GradeChoice(selected, correct), "selection %v", selected)
	}
}

func TestGradeChoiceSubsetsAndSupersetsAreIncorrect(t *testing.T) {
	correct := []uint{3, 7, 9}
	require.False(t, GradeChoice([]uint{3, 7}, correct))
	require.False(t, GradeChoice([]uint{3}, correct))
	require.False(t, GradeChoice([]uint{3, 7, 9, 11}, correct))
	require.False(t, GradeChoice(nil, correct))
}

func TestGradeSingleChoiceAndTrueFalseShareSetEquality(t *testing.T) {
	for _, questionType := range []models.QuestionType{models.QuestionTypeSingleChoice, models.QuestionTypeTrueFalse} {
		q := Question{Type: questionType, Points: 2, CorrectOptionIDs: []uint{5}}

		result, err := Grade(q, Answer{SelectedOptionIDs: []uint{5}})
		require.NoError(t, err)
		require.True(t, *result.IsCorrect)
		require.Equal(t, 2.0, result.Score)

		result, err = Grade(q, Answer{SelectedOptionIDs: []uint{5, 6}})
		require.NoError(t, err)
		require.False(t, *result.IsCorrect)
		require.Equal(t, 0.0, result.Score)
		require.Equal(t, 2.0, result.MaxScore)
	}
}

func TestGradeShortAnswerIsTrimmedAndCaseInsensitive(t *testing.T) {
	q := Question{Type: models.QuestionTypeShortAnswer, Points: 1, CorrectAnswer: "Photosynthesis"}

	result, err := Grade(q, Answer{Text: "  photoSYNTHESIS \n"})
	require.NoError(t, err)
	require.True(t, *result.IsCorrect)

	result, err = Grade(q, Answer{Text: "photosynthesys"})
	require.NoError(t, err)
	require.False(t, *result.IsCorrect)
}

func TestGradeRejectsUnknownType(t *testing.T) {
	_, err := Grade(Question{Type: "essay"}, Answer{})
	require.ErrorIs(t, err, ErrUnsupportedQuestionType)

	_, err = Grade(Question{Type: models.QuestionTypeOpenEnded}, Answer{})
	require.ErrorIs(t, err, ErrOpenEndedNeedsPolicy)
}

func TestGradeOpenEndedDisabledFlagsWithoutCallingGrader(t *testing.T) {
	grader := &stubGrader{result: ai.GradingResult{Score: 1, Confidence: 1}}
	q := Question{Type: models.QuestionTypeOpenEnded, Points: 5}

	result := GradeOpenEnded(context.Background(), grader, OpenEndedPolicy{AICheckEnabled: false}, q, "answer")
	require.True(t, result.Flagged)
	require.Nil(t, result.IsCorrect)
	require.Equal(t, 0.0, result.Score)
	require.Equal(t, 5.0, result.MaxScore)
	require.Equal(t, 0, grader.calls)
}

func TestGradeOpenEndedScalesScoreAndFlagsLowConfidence(t *testing.T) {
	q := Question{Type: models.QuestionTypeOpenEnded, Points: 4}
	policy := OpenEndedPolicy{AICheckEnabled: true}

	confident := &stubGrader{result: ai.GradingResult{Score: 0.75, Confidence: 0.9, Feedback: "good", RubricScores: map[string]float64{"clarity": 1}}}
	result := GradeOpenEnded(context.Background(), confident, policy, q, "answer")
	require.False(t, result.Flagged)
	require.InDelta(t, 3.0, result.Score, 1e-9)
	require.NotNil(t, result.AI)
	require.Equal(t, "good", result.AI.Feedback)

	unsure := &stubGrader{result: ai.GradingResult{Score: 0.75, Confidence: 0.69}}
	result = GradeOpenEnded(context.Background(), unsure, policy, q, "answer")
	require.True(t, result.Flagged)
	require.InDelta(t, 3.0, result.Score, 1e-9)

	atThreshold := &stubGrader{result: ai.GradingResult{Score: 0.5, Confidence: 0.7}}
	result = GradeOpenEnded(context.Background(), atThreshold, policy, q, "answer")
	require.False(t, result.Flagged)
}

func TestGradeOpenEndedThresholdIsOverridable(t *testing.T) {
	q := Question{Type: models.QuestionTypeOpenEnded, Points: 1}
	grader := &stubGrader{result: ai.GradingResult{Score: 1, Confidence: 0.8}}

	result := GradeOpenEnded(context.Background(), grader, OpenEndedPolicy{AICheckEnabled: true, ReviewThreshold: 0.9}, q, "answer")
	require.True(t, result.Flagged)
}

func TestGradeOpenEndedFailureBecomesFlaggedZero(t *testing.T) {
	q := Question{Type: models.QuestionTypeOpenEnded, Points: 3}
	policy := OpenEndedPolicy{AICheckEnabled: true}

	failing := &stubGrader{err: errors.New("upstream down")}
	result := GradeOpenEnded(context.Background(), failing, policy, q, "answer")
	require.True(t, result.Flagged)
	require.Equal(t, 0.0, result.Score)
	require.True(t, result.AI.Failed)
	require.Equal(t, 0.0, result.AI.Confidence)

	result = GradeOpenEnded(context.Background(), nil, policy, q, "answer")
	require.True(t, result.Flagged)
	require.True(t, result.AI.Failed)
}

func TestGradeOpenEndedTimeoutIsBounded(t *testing.T) {
	q := Question{Type: models.QuestionTypeOpenEnded, Points: 3}
	slow := &stubGrader{delay: time.Second, result: ai.GradingResult{Score: 1, Confidence: 1}}

	start := time.Now()
	result := GradeOpenEnded(context.Background(), slow, OpenEndedPolicy{AICheckEnabled: true, Timeout: 20 * time.Millisecond}, q, "answer")
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.True(t, result.Flagged)
	require.Equal(t, 0.0, result.Score)
}

func TestGradeAnswerRoutesByType(t *testing.T) {
	grader := &stubGrader{result: ai.GradingResult{Score: 1, Confidence: 1}}
	policy := OpenEndedPolicy{AICheckEnabled: true}

	result, err := GradeAnswer(context.Background(), grader, policy, Question{Type: models.QuestionTypeOpenEnded, Points: 2}, Answer{Text: "x"})
	require.NoError(t, err)
	require.Equal(t, 2.0, result.Score)
	require.Equal(t, 1, grader.calls)

	result, err = GradeAnswer(context.Background(), grader, policy, Question{Type: models.QuestionTypeMultipleChoice, Points: 2, CorrectOptionIDs: []uint{1, 2}}, Answer{SelectedOptionIDs: []uint{2, 1}})
	require.NoError(t, err)
	require.True(t, *result.IsCorrect)
	require.Equal(t, 1, grader.calls)
}

func TestScoreFractionGuardsZeroTotal(t *testing.T) {
	require.Equal(t, 0.0, ScoreFraction(0, 0))
	require.InDelta(t, 0.5, ScoreFraction(2, 4), 1e-9)
}
