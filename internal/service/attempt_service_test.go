package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
)

func TestAttemptIncrementalAndBulkModesScoreAlike(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, uintPtr(catalog.paragraphs[0].ID), models.TestPurposeFormative)

	incremental := studentActor(10)
	started, err := env.attempts.Start(ctx, incremental, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)
	require.Equal(t, 1, started.Attempt.AttemptNumber)
	require.Len(t, started.Questions, 2)

	answers := quizAnswers(quiz, true, false)
	first, err := env.attempts.Answer(ctx, incremental, started.Attempt.ID, answers[0])
	require.NoError(t, err)
	require.True(t, first.IsCorrect)
	require.Equal(t, []uint{quiz.Questions[0].Options[0].ID}, first.CorrectOptionIDs)
	require.Equal(t, "Mitochondria", first.Explanation)
	require.Equal(t, 1, first.AnsweredCount)
	require.False(t, first.AttemptCompleted)

	second, err := env.attempts.Answer(ctx, incremental, started.Attempt.ID, answers[1])
	require.NoError(t, err)
	require.False(t, second.IsCorrect)
	require.Equal(t, "cell", second.CorrectAnswer)
	require.True(t, second.AttemptCompleted)
	require.NotNil(t, second.Attempt)

	bulk := env.completeQuiz(t, studentActor(11), quiz, true, false)

	require.Equal(t, models.AttemptStatusCompleted, second.Attempt.Status)
	require.Equal(t, models.AttemptStatusCompleted, bulk.Status)
	require.InDelta(t, 0.5, second.Attempt.Score, 1e-9)
	require.InDelta(t, second.Attempt.Score, bulk.Score, 1e-9)
	require.InDelta(t, second.Attempt.PointsEarned, bulk.PointsEarned, 1e-9)
	require.Equal(t, second.Attempt.Passed, bulk.Passed)
	require.False(t, bulk.Passed)
}

func TestAttemptNumbersStayMonotonicAcrossAbandonment(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposePractice)
	student := studentActor(12)

	first, err := env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)
	second, err := env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)
	require.Equal(t, 2, second.Attempt.AttemptNumber)

	replaced, err := env.attempts.Get(ctx, student, first.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusAbandoned, replaced.Status)

	_, err = env.attempts.Answer(ctx, student, first.Attempt.ID, quizAnswers(quiz, true, true)[0])
	require.ErrorIs(t, err, ErrAttemptNotInProgress)

	abandoned, err := env.attempts.Abandon(ctx, student, second.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusAbandoned, abandoned.Status)

	_, err = env.attempts.Abandon(ctx, student, second.Attempt.ID)
	require.ErrorIs(t, err, ErrAttemptNotInProgress)

	third, err := env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)
	require.Equal(t, 3, third.Attempt.AttemptNumber)
}

func TestAttemptRejectsIntegrityViolations(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposeFormative)
	other := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposeFormative)
	student := studentActor(13)

	started, err := env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)

	_, err = env.attempts.Answer(ctx, student, started.Attempt.ID, dto.AttemptAnswerRequest{QuestionID: other.Questions[0].ID, SelectedOptionIDs: []uint{1}})
	require.ErrorIs(t, err, ErrQuestionNotInTest)
	var questionErr *QuestionError
	require.True(t, errors.As(err, &questionErr))
	require.Equal(t, other.Questions[0].ID, questionErr.QuestionID)

	_, err = env.attempts.Answer(ctx, studentActor(99), started.Attempt.ID, quizAnswers(quiz, true, true)[0])
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.attempts.Answer(ctx, student, started.Attempt.ID, quizAnswers(quiz, true, true)[0])
	require.NoError(t, err)
	_, err = env.attempts.Answer(ctx, student, started.Attempt.ID, quizAnswers(quiz, false, true)[0])
	require.ErrorIs(t, err, ErrDuplicateAnswer)

	_, err = env.attempts.Submit(ctx, student, started.Attempt.ID, dto.AttemptSubmitRequest{Answers: quizAnswers(quiz, true, true)[1:]})
	require.ErrorIs(t, err, ErrAnswerCountMismatch)
	var countErr *AnswerCountError
	require.True(t, errors.As(err, &countErr))
	require.Equal(t, 2, countErr.Expected)
	require.Equal(t, 1, countErr.Got)

	_, err = env.attempts.Submit(ctx, student, started.Attempt.ID, dto.AttemptSubmitRequest{Answers: quizAnswers(quiz, true, true)})
	require.ErrorIs(t, err, ErrDuplicateAnswer)

	current, err := env.attempts.Get(ctx, student, started.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusInProgress, current.Status)
	require.Len(t, current.Answers, 1)
}

func TestAttemptStartChecksTestAvailability(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	student := studentActor(14)

	foreign := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposeFormative)
	require.NoError(t, env.db.Model(&foreign).Update("school_id", 2).Error)
	_, err := env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: foreign.ID})
	require.ErrorIs(t, err, ErrForbidden)

	retired := models.Test{ChapterID: catalog.chapter.ID, Title: "Retired quiz", Purpose: models.TestPurposeFormative, PassingScore: 0.6, IsActive: false}
	require.NoError(t, env.db.Create(&retired).Error)
	_, err = env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: retired.ID})
	require.ErrorIs(t, err, ErrTestInactive)

	_, err = env.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: 4242})
	require.ErrorIs(t, err, ErrTestNotFound)
}

func TestAttemptVisibleToOwnerAndSchoolStaff(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposePractice)

	result := env.completeQuiz(t, studentActor(15), quiz, true, true)

	_, err := env.attempts.Get(ctx, teacherActor(2), result.ID)
	require.NoError(t, err)

	_, err = env.attempts.Get(ctx, Actor{ID: 3, Role: RoleTeacher, SchoolID: 7}, result.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.attempts.Get(ctx, studentActor(16), result.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAbandonExpiredClosesOnlyStaleAttempts(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, nil, models.TestPurposeFormative)

	stale, err := env.attempts.Start(ctx, studentActor(17), dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	fresh, err := env.attempts.Start(ctx, studentActor(18), dto.AttemptStartRequest{TestID: quiz.ID})
	require.NoError(t, err)

	swept, err := env.attempts.AbandonExpired(ctx, dto.AttemptSweepRequest{OlderThanMinutes: 60})
	require.NoError(t, err)
	require.Equal(t, 1, swept.Abandoned)

	staleView, err := env.attempts.Get(ctx, studentActor(17), stale.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusAbandoned, staleView.Status)

	freshView, err := env.attempts.Get(ctx, studentActor(18), fresh.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusInProgress, freshView.Status)
}

func TestAttemptCompletionPublishesEvents(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, uintPtr(catalog.paragraphs[0].ID), models.TestPurposeFormative)

	sub := env.redis.Subscribe(ctx, eventChannel+":events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	env.completeQuiz(t, studentActor(19), quiz, true, true)

	seen := map[string]int{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case msg := <-messages:
			var event DomainEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
			require.NotEmpty(t, event.ID)
			seen[event.Type]++
		case <-timeout:
			t.Fatalf("expected attempt and mastery events, got %v", seen)
		}
	}

	require.Equal(t, 1, seen[EventAttemptCompleted])
	require.Equal(t, 1, seen[EventMasteryUpdated])
}

func TestAbandonDoesNotReopenCompletedAttempt(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	catalog := env.seedCatalog(t, 1)
	quiz := env.seedQuiz(t, catalog.chapter.ID, uintPtr(catalog.paragraphs[0].ID), models.TestPurposeFormative)
	student := studentActor(19)

	completed := env.completeQuiz(t, student, quiz, true, true)
	require.Equal(t, models.AttemptStatusCompleted, completed.Status)

	_, err := env.attempts.Abandon(ctx, student, completed.ID)
	require.ErrorIs(t, err, ErrAttemptNotInProgress)

	_, err = env.attempts.Answer(ctx, student, completed.ID, quizAnswers(quiz, true, true)[0])
	require.ErrorIs(t, err, ErrAttemptNotInProgress)

	swept, err := env.attempts.AbandonExpired(ctx, dto.AttemptSweepRequest{OlderThanMinutes: 1})
	require.NoError(t, err)
	require.Zero(t, swept.Abandoned)

	view, err := env.attempts.Get(ctx, student, completed.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusCompleted, view.Status)
	require.InDelta(t, 1, view.Score, 1e-9)
}
