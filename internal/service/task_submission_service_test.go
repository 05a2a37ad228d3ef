package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/scoring"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

func (e *serviceEnv) answerBoth(t *testing.T, student Actor, fixture homeworkFixture, submissionID uint) {
	t.Helper()
	ctx := context.Background()

	_, err := e.submissions.SaveAnswer(ctx, student, submissionID, dto.TaskAnswerRequest{QuestionID: fixture.choice.ID, SelectedOptionIDs: []uint{1}})
	require.NoError(t, err)
	_, err = e.submissions.SaveAnswer(ctx, student, submissionID, dto.TaskAnswerRequest{QuestionID: fixture.essay.ID, AnswerText: "<b>Water</b> crosses the membrane"})
	require.NoError(t, err)
}

func TestLowConfidenceAnswerGoesToReviewAndOverrideRegrades(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(50)
	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)), student.ID)
	env.grader.result = ai.GradingResult{Score: 0.5, Confidence: 0.4, Feedback: "<i>partial</i>", RubricScores: map[string]float64{"membrane": 1}}

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, started.AttemptsUsed)
	require.Equal(t, 2, started.MaxAttempts)
	env.answerBoth(t, student, fixture, started.Submission.ID)

	completed, err := env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusNeedsReview, completed.Status)
	require.InDelta(t, 4, completed.Score, 1e-9)
	require.InDelta(t, 6, completed.MaxScore, 1e-9)
	require.Equal(t, 1, env.grader.calls)

	essay := completed.Answers[1]
	require.True(t, essay.FlaggedForReview)
	require.Nil(t, essay.IsCorrect)
	require.NotNil(t, essay.AIConfidence)
	require.InDelta(t, 0.4, *essay.AIConfidence, 1e-9)
	require.Equal(t, "partial", essay.AIFeedback)
	require.Equal(t, map[string]float64{"membrane": 1}, essay.AIRubricScores)
	require.Equal(t, "Water crosses the membrane", essay.AnswerText)

	queue, err := env.submissions.ReviewQueue(ctx, teacher, fixture.homework.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	_, err = env.submissions.Review(ctx, teacher, essay.ID, dto.AnswerReviewRequest{Score: float64Ptr(4.5), Comment: "too high"})
	require.ErrorIs(t, err, ErrInvalidOverride)

	_, err = env.submissions.Review(ctx, student, essay.ID, dto.AnswerReviewRequest{Score: float64Ptr(3)})
	require.ErrorIs(t, err, ErrForbidden)

	reviewed, err := env.submissions.Review(ctx, teacher, essay.ID, dto.AnswerReviewRequest{Score: float64Ptr(3), Comment: "Good start"})
	require.NoError(t, err)
	require.False(t, reviewed.Answer.FlaggedForReview)
	require.InDelta(t, 3, reviewed.Answer.EffectiveScore, 1e-9)
	require.Equal(t, models.SubmissionStatusGraded, reviewed.Submission.Status)
	require.InDelta(t, 5, reviewed.Submission.Score, 1e-9)
	require.Len(t, reviewed.History, 1)
	require.InDelta(t, 2, reviewed.History[0].PreviousScore, 1e-9)

	again, err := env.submissions.Review(ctx, teacher, essay.ID, dto.AnswerReviewRequest{Score: float64Ptr(4)})
	require.NoError(t, err)
	require.InDelta(t, 6, again.Submission.Score, 1e-9)
	require.Len(t, again.History, 2)
	require.InDelta(t, 3, again.History[1].PreviousScore, 1e-9)

	queue, err = env.submissions.ReviewQueue(ctx, teacher, fixture.homework.ID)
	require.NoError(t, err)
	require.Empty(t, queue)
}

func TestAIFailureAndDisabledCheckFlagAnswers(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(51)
	env.grader.err = errors.New("model unavailable")

	failing := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)), student.ID)
	started, err := env.submissions.Start(ctx, student, failing.task.ID)
	require.NoError(t, err)
	env.answerBoth(t, student, failing, started.Submission.ID)

	completed, err := env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusNeedsReview, completed.Status)
	require.True(t, completed.Answers[1].FlaggedForReview)
	require.Nil(t, completed.Answers[1].AIScore)
	require.Zero(t, completed.Answers[1].Score)
	require.Equal(t, 1, env.grader.calls)

	manual := defaultHomework(env.clock.Now().Add(24 * time.Hour))
	manual.AICheckEnabled = false
	disabled := env.seedHomework(t, teacher, manual, student.ID)
	started, err = env.submissions.Start(ctx, student, disabled.task.ID)
	require.NoError(t, err)
	env.answerBoth(t, student, disabled, started.Submission.ID)

	completed, err = env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusNeedsReview, completed.Status)
	require.Equal(t, 1, env.grader.calls)
}

func TestLateSubmissionPenalty(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(52)
	env.grader.result = ai.GradingResult{Score: 1, Confidence: 0.95}

	create := defaultHomework(env.clock.Now().Add(time.Hour))
	create.LateSubmissionAllowed = true
	create.LatePenaltyPerDay = 10
	create.MaxLateDays = 2
	fixture := env.seedHomework(t, teacher, create, student.ID)

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)
	env.answerBoth(t, student, fixture, started.Submission.ID)

	env.clock.Advance(3 * time.Hour)
	completed, err := env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.True(t, completed.IsLate)
	require.InDelta(t, 10, completed.LatePenaltyApplied, 1e-9)
	require.NotNil(t, completed.OriginalScore)
	require.InDelta(t, 6, *completed.OriginalScore, 1e-9)
	require.InDelta(t, 5.4, completed.Score, 1e-9)
	require.Equal(t, models.SubmissionStatusGraded, completed.Status)

	retry, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)

	env.clock.Advance(72 * time.Hour)
	_, err = env.submissions.Complete(ctx, student, retry.Submission.ID)
	require.ErrorIs(t, err, scoring.ErrSubmissionTooLate)
	var tooLate *scoring.TooLateError
	require.True(t, errors.As(err, &tooLate))
	require.Equal(t, 2, tooLate.MaxLateDays)
}

func TestLateSubmissionRejectedWhenNotAllowed(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	student := studentActor(53)
	fixture := env.seedHomework(t, teacherActor(2), defaultHomework(env.clock.Now().Add(time.Hour)), student.ID)

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	_, err = env.submissions.Complete(ctx, student, started.Submission.ID)
	require.ErrorIs(t, err, scoring.ErrLateSubmissionNotAllowed)

	_, err = env.submissions.Start(ctx, student, fixture.task.ID)
	require.ErrorIs(t, err, scoring.ErrLateSubmissionNotAllowed)
}

func TestTaskAttemptBudgetAndRoster(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(54)
	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)), student.ID)

	_, err := env.submissions.Start(ctx, studentActor(55), fixture.task.ID)
	require.ErrorIs(t, err, ErrNotAssigned)

	for attempt := 1; attempt <= 2; attempt++ {
		started, err := env.submissions.Start(ctx, student, fixture.task.ID)
		require.NoError(t, err)
		require.Equal(t, attempt, started.Submission.AttemptNumber)

		resumed, err := env.submissions.Start(ctx, student, fixture.task.ID)
		require.NoError(t, err)
		require.Equal(t, started.Submission.ID, resumed.Submission.ID)

		_, err = env.submissions.Complete(ctx, student, started.Submission.ID)
		require.NoError(t, err)

		_, err = env.submissions.Complete(ctx, student, started.Submission.ID)
		require.ErrorIs(t, err, ErrSubmissionNotInProgress)
	}

	_, err = env.submissions.Start(ctx, student, fixture.task.ID)
	require.ErrorIs(t, err, ErrAttemptsExceeded)
	var exceeded *AttemptsExceededError
	require.True(t, errors.As(err, &exceeded))
	require.Equal(t, 2, exceeded.Used)
	require.Equal(t, 2, exceeded.Max)

	draft := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)))
	_, err = env.submissions.Start(ctx, student, draft.task.ID)
	require.ErrorIs(t, err, ErrHomeworkNotPublished)
}

func TestSubmissionVisibility(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(56)
	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)), student.ID)

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)

	_, err = env.submissions.Get(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	_, err = env.submissions.Get(ctx, teacher, started.Submission.ID)
	require.NoError(t, err)
	_, err = env.submissions.Get(ctx, studentActor(57), started.Submission.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.submissions.SaveAnswer(ctx, studentActor(57), started.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.choice.ID, SelectedOptionIDs: []uint{1}})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.submissions.Review(ctx, teacher, 4242, dto.AnswerReviewRequest{Score: float64Ptr(1)})
	require.ErrorIs(t, err, ErrTaskAnswerNotFound)
}

func TestCompleteRejectsAnswersSavedWhileGrading(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(53)
	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(24*time.Hour)), student.ID)
	env.grader.result = ai.GradingResult{Score: 1, Confidence: 0.9}

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)
	_, err = env.submissions.SaveAnswer(ctx, student, started.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.essay.ID, AnswerText: "Water crosses the membrane"})
	require.NoError(t, err)

	env.grader.onGrade = func() {
		env.grader.onGrade = nil
		_, err := env.submissions.SaveAnswer(ctx, student, started.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.choice.ID, SelectedOptionIDs: []uint{1}})
		require.NoError(t, err)
	}

	_, err = env.submissions.Complete(ctx, student, started.Submission.ID)
	require.ErrorIs(t, err, ErrSubmissionChanged)

	completed, err := env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.Len(t, completed.Answers, 2)
	require.Equal(t, models.SubmissionStatusGraded, completed.Status)

	_, err = env.submissions.Complete(ctx, student, started.Submission.ID)
	require.ErrorIs(t, err, ErrSubmissionNotInProgress)
}
