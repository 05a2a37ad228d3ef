package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/observability"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/internal/scoring"
)

const defaultSweepLimit = 100

var (
	// ErrTestNotFound indicates the test does not exist.
	ErrTestNotFound = errors.New("test not found")
	// ErrTestInactive indicates the test was retired from the catalog.
	ErrTestInactive = errors.New("test is not active")
	// ErrTestHasNoQuestions indicates the test cannot be attempted.
	ErrTestHasNoQuestions = errors.New("test has no questions")
	// ErrAttemptNotFound indicates the attempt does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptNotInProgress indicates the attempt already reached a terminal state.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
	// ErrQuestionNotInTest indicates the answered question belongs to another test.
	ErrQuestionNotInTest = errors.New("question does not belong to this test")
	// ErrAnswerCountMismatch indicates a bulk submission does not cover every question exactly once.
	ErrAnswerCountMismatch = errors.New("answer count does not match question count")
)

// AnswerCountError carries the numbers behind ErrAnswerCountMismatch.
type AnswerCountError struct {
	Expected int
	Got      int
}

func (e *AnswerCountError) Error() string {
	return fmt.Sprintf("expected %d answers, got %d", e.Expected, e.Got)
}

// Unwrap lets errors.Is match ErrAnswerCountMismatch.
func (e *AnswerCountError) Unwrap() error {
	return ErrAnswerCountMismatch
}

// AttemptService runs the test attempt lifecycle.
type AttemptService interface {
	Start(ctx context.Context, actor Actor, payload dto.AttemptStartRequest) (dto.AttemptStartResponse, error)
	Answer(ctx context.Context, actor Actor, attemptID uint, payload dto.AttemptAnswerRequest) (dto.AnswerFeedbackResponse, error)
	Submit(ctx context.Context, actor Actor, attemptID uint, payload dto.AttemptSubmitRequest) (dto.AttemptResponse, error)
	Get(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error)
	Abandon(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error)
	AbandonExpired(ctx context.Context, payload dto.AttemptSweepRequest) (dto.AttemptSweepResponse, error)
}

type attemptService struct {
	tx        repository.Transactor
	catalog   repository.CatalogRepository
	attempts  repository.AttemptRepository
	mastery   MasteryService
	events    EventPublisher
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAttemptService constructs the attempt service.
func NewAttemptService(
	tx repository.Transactor,
	catalog repository.CatalogRepository,
	attempts repository.AttemptRepository,
	mastery MasteryService,
	events EventPublisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) AttemptService {
	return &attemptService{
		tx:        tx,
		catalog:   catalog,
		attempts:  attempts,
		mastery:   mastery,
		events:    events,
		validator: validate,
		logger:    logger.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

func (s *attemptService) Start(ctx context.Context, actor Actor, payload dto.AttemptStartRequest) (dto.AttemptStartResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptStartResponse{}, err
	}

	test, err := s.loadTest(ctx, payload.TestID)
	if err != nil {
		return dto.AttemptStartResponse{}, err
	}
	if !actor.CanSee(test.SchoolID) {
		return dto.AttemptStartResponse{}, ErrForbidden
	}
	if !test.IsActive {
		return dto.AttemptStartResponse{}, ErrTestInactive
	}
	if len(test.Questions) == 0 {
		return dto.AttemptStartResponse{}, ErrTestHasNoQuestions
	}

	var attempt models.TestAttempt
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		abandoned, err := s.attempts.AbandonInProgress(ctx, actor.ID, test.ID)
		if err != nil {
			return err
		}
		if abandoned > 0 {
			s.logger.Info().Uint("student_id", actor.ID).Uint("test_id", test.ID).Int64("abandoned", abandoned).Msg("abandoned previous in-progress attempts")
		}

		used, err := s.attempts.CountByStudentAndTest(ctx, actor.ID, test.ID)
		if err != nil {
			return err
		}

		attempt = models.TestAttempt{
			StudentID:     actor.ID,
			TestID:        test.ID,
			AttemptNumber: int(used) + 1,
			SchoolID:      actor.SchoolID,
			Status:        models.AttemptStatusInProgress,
			StartedAt:     s.now(),
			TotalPoints:   test.TotalPoints(),
		}
		return s.attempts.Create(ctx, &attempt)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return dto.AttemptStartResponse{}, ErrConcurrentAttempt
		}
		return dto.AttemptStartResponse{}, err
	}

	s.logger.Info().Uint("attempt_id", attempt.ID).Uint("test_id", test.ID).Int("attempt_number", attempt.AttemptNumber).Msg("attempt started")

	return dto.AttemptStartResponse{
		Attempt:          dto.NewAttemptResponse(attempt),
		Title:            test.Title,
		TimeLimitMinutes: test.TimeLimitMinutes,
		Questions:        dto.NewAttemptQuestionViews(test.Questions),
	}, nil
}

func (s *attemptService) Answer(ctx context.Context, actor Actor, attemptID uint, payload dto.AttemptAnswerRequest) (dto.AnswerFeedbackResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerFeedbackResponse{}, err
	}

	var (
		attempt  models.TestAttempt
		test     models.Test
		question models.Question
		answer   models.TestAttemptAnswer
		change   MasteryChange
	)

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		attempt, test, err = s.openAttempt(ctx, actor, attemptID)
		if err != nil {
			return err
		}

		var ok bool
		question, ok = test.Question(payload.QuestionID)
		if !ok {
			return &QuestionError{QuestionID: payload.QuestionID, Err: ErrQuestionNotInTest}
		}
		for _, existing := range attempt.Answers {
			if existing.QuestionID == question.ID {
				return &QuestionError{QuestionID: question.ID, Err: ErrDuplicateAnswer}
			}
		}

		answer, err = s.recordAnswer(ctx, attempt.ID, question, payload)
		if err != nil {
			return err
		}
		attempt.Answers = append(attempt.Answers, answer)

		if len(attempt.Answers) < len(test.Questions) {
			return nil
		}
		change, err = s.finalize(ctx, &attempt, test)
		return err
	})
	if err != nil {
		return dto.AnswerFeedbackResponse{}, err
	}

	response := dto.AnswerFeedbackResponse{
		QuestionID:       question.ID,
		IsCorrect:        answer.IsCorrect,
		CorrectOptionIDs: question.CorrectOptionIDs(),
		CorrectAnswer:    question.CorrectAnswer,
		Explanation:      question.Explanation,
		PointsEarned:     answer.PointsEarned,
		AnsweredCount:    len(attempt.Answers),
		TotalQuestions:   len(test.Questions),
	}

	if attempt.Status == models.AttemptStatusCompleted {
		s.afterFinalize(ctx, attempt, test, change)
		completed := dto.NewAttemptResponse(attempt)
		response.AttemptCompleted = true
		response.Attempt = &completed
	}

	return response, nil
}

func (s *attemptService) Submit(ctx context.Context, actor Actor, attemptID uint, payload dto.AttemptSubmitRequest) (dto.AttemptResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptResponse{}, err
	}

	var (
		attempt models.TestAttempt
		test    models.Test
		change  MasteryChange
	)

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		attempt, test, err = s.openAttempt(ctx, actor, attemptID)
		if err != nil {
			return err
		}

		if len(payload.Answers) != len(test.Questions) {
			return &AnswerCountError{Expected: len(test.Questions), Got: len(payload.Answers)}
		}

		seen := make(map[uint]struct{}, len(attempt.Answers)+len(payload.Answers))
		for _, existing := range attempt.Answers {
			seen[existing.QuestionID] = struct{}{}
		}

		questions := make([]models.Question, 0, len(payload.Answers))
		for _, item := range payload.Answers {
			question, ok := test.Question(item.QuestionID)
			if !ok {
				return &QuestionError{QuestionID: item.QuestionID, Err: ErrQuestionNotInTest}
			}
			if _, dup := seen[question.ID]; dup {
				return &QuestionError{QuestionID: question.ID, Err: ErrDuplicateAnswer}
			}
			seen[question.ID] = struct{}{}
			questions = append(questions, question)
		}

		for i, question := range questions {
			answer, err := s.recordAnswer(ctx, attempt.ID, question, payload.Answers[i])
			if err != nil {
				return err
			}
			attempt.Answers = append(attempt.Answers, answer)
		}

		change, err = s.finalize(ctx, &attempt, test)
		return err
	})
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	s.afterFinalize(ctx, attempt, test, change)

	return dto.NewAttemptResponse(attempt), nil
}

func (s *attemptService) Get(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrAttemptNotFound
		}
		return dto.AttemptResponse{}, err
	}

	owner := attempt.StudentID == actor.ID
	staff := actor.IsStaff() && attempt.SchoolID == actor.SchoolID
	if !owner && !staff {
		return dto.AttemptResponse{}, ErrForbidden
	}

	return dto.NewAttemptResponse(attempt), nil
}

func (s *attemptService) Abandon(ctx context.Context, actor Actor, attemptID uint) (dto.AttemptResponse, error) {
	var attempt models.TestAttempt
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		attempt, err = s.attempts.GetForUpdate(ctx, attemptID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAttemptNotFound
			}
			return err
		}
		if attempt.StudentID != actor.ID {
			return ErrForbidden
		}

		attempt.Status = models.AttemptStatusAbandoned
		moved, err := s.attempts.Transition(ctx, &attempt, models.AttemptStatusInProgress)
		if err != nil {
			return err
		}
		if !moved {
			return ErrAttemptNotInProgress
		}
		return nil
	})
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	return dto.NewAttemptResponse(attempt), nil
}

// AbandonExpired closes attempts left open longer than the requested age.
func (s *attemptService) AbandonExpired(ctx context.Context, payload dto.AttemptSweepRequest) (dto.AttemptSweepResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptSweepResponse{}, err
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	cutoff := s.now().Add(-time.Duration(payload.OlderThanMinutes) * time.Minute)

	stale, err := s.attempts.ListInProgressStartedBefore(ctx, cutoff, limit)
	if err != nil {
		return dto.AttemptSweepResponse{}, err
	}

	abandoned := 0
	for _, candidate := range stale {
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			attempt := candidate
			attempt.Status = models.AttemptStatusAbandoned
			moved, err := s.attempts.Transition(ctx, &attempt, models.AttemptStatusInProgress)
			if err != nil {
				return err
			}
			if moved {
				abandoned++
			}
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Uint("attempt_id", candidate.ID).Msg("failed to abandon stale attempt")
		}
	}

	if abandoned > 0 {
		s.logger.Info().Int("abandoned", abandoned).Time("cutoff", cutoff).Msg("stale attempts abandoned")
	}

	return dto.AttemptSweepResponse{Abandoned: abandoned}, nil
}

func (s *attemptService) loadTest(ctx context.Context, testID uint) (models.Test, error) {
	test, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Test{}, ErrTestNotFound
		}
		return models.Test{}, err
	}
	return test, nil
}

// openAttempt loads an attempt the actor may still answer, together with its test.
// The attempt row stays locked until the caller's transaction ends, so concurrent
// answers to the same attempt are serialized.
func (s *attemptService) openAttempt(ctx context.Context, actor Actor, attemptID uint) (models.TestAttempt, models.Test, error) {
	attempt, err := s.attempts.GetForUpdate(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TestAttempt{}, models.Test{}, ErrAttemptNotFound
		}
		return models.TestAttempt{}, models.Test{}, err
	}
	if attempt.StudentID != actor.ID {
		return models.TestAttempt{}, models.Test{}, ErrForbidden
	}
	if attempt.Status.IsTerminal() {
		return models.TestAttempt{}, models.Test{}, ErrAttemptNotInProgress
	}

	attempt.Answers, err = s.attempts.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return models.TestAttempt{}, models.Test{}, err
	}

	test, err := s.loadTest(ctx, attempt.TestID)
	if err != nil {
		return models.TestAttempt{}, models.Test{}, err
	}
	return attempt, test, nil
}

func (s *attemptService) recordAnswer(ctx context.Context, attemptID uint, question models.Question, payload dto.AttemptAnswerRequest) (models.TestAttemptAnswer, error) {
	result, err := scoring.Grade(scoring.Question{
		Type:             question.QuestionType,
		Points:           question.Points,
		CorrectOptionIDs: question.CorrectOptionIDs(),
		CorrectAnswer:    question.CorrectAnswer,
		Text:             question.Text,
	}, scoring.Answer{
		SelectedOptionIDs: payload.SelectedOptionIDs,
		Text:              payload.AnswerText,
	})
	if err != nil {
		return models.TestAttemptAnswer{}, &QuestionError{QuestionID: question.ID, Err: err}
	}

	answer := models.TestAttemptAnswer{
		AttemptID:         attemptID,
		QuestionID:        question.ID,
		SelectedOptionIDs: payload.SelectedOptionIDs,
		AnswerText:        payload.AnswerText,
		IsCorrect:         result.IsCorrect != nil && *result.IsCorrect,
		PointsEarned:      result.Score,
		AnsweredAt:        s.now(),
	}
	if err := s.attempts.CreateAnswer(ctx, &answer); err != nil {
		if repository.IsUniqueViolation(err) {
			return models.TestAttemptAnswer{}, &QuestionError{QuestionID: question.ID, Err: ErrDuplicateAnswer}
		}
		return models.TestAttemptAnswer{}, err
	}
	return answer, nil
}

// finalize scores a fully answered attempt and folds it into mastery inside the caller's transaction.
func (s *attemptService) finalize(ctx context.Context, attempt *models.TestAttempt, test models.Test) (MasteryChange, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-mastery-api/internal/service/attempt")
	ctx, span := tracer.Start(ctx, "attempt.finalize")
	span.SetAttributes(
		attribute.Int64("attempt.id", int64(attempt.ID)),
		attribute.Int64("attempt.test_id", int64(test.ID)),
		attribute.String("attempt.purpose", string(test.Purpose)),
	)
	defer span.End()

	var earned float64
	for _, answer := range attempt.Answers {
		earned += answer.PointsEarned
	}

	completedAt := s.now()
	attempt.PointsEarned = earned
	attempt.TotalPoints = test.TotalPoints()
	attempt.Score = scoring.ScoreFraction(earned, attempt.TotalPoints)
	attempt.Passed = attempt.Score >= test.PassingScore
	attempt.CompletedAt = &completedAt
	attempt.TimeSpentSeconds = int(completedAt.Sub(attempt.StartedAt).Seconds())
	attempt.Status = models.AttemptStatusCompleted

	moved, err := s.attempts.Transition(ctx, attempt, models.AttemptStatusInProgress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt_update_failed")
		return MasteryChange{}, err
	}
	if !moved {
		span.SetStatus(codes.Error, "attempt_already_closed")
		return MasteryChange{}, ErrAttemptNotInProgress
	}

	change, err := s.mastery.ApplyAttempt(ctx, *attempt, test)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mastery_update_failed")
		return MasteryChange{}, err
	}

	span.SetAttributes(
		attribute.Float64("attempt.score", attempt.Score),
		attribute.Bool("attempt.passed", attempt.Passed),
	)
	return change, nil
}

func (s *attemptService) afterFinalize(ctx context.Context, attempt models.TestAttempt, test models.Test, change MasteryChange) {
	observability.AttemptsCompleted().WithLabelValues(string(test.Purpose), strconv.FormatBool(attempt.Passed)).Inc()

	s.logger.Info().
		Uint("attempt_id", attempt.ID).
		Uint("student_id", attempt.StudentID).
		Float64("score", attempt.Score).
		Bool("passed", attempt.Passed).
		Msg("attempt completed")

	completed := dto.NewAttemptResponse(attempt)
	completed.Answers = nil
	publishEvent(ctx, s.events, s.logger, EventAttemptCompleted, completed)

	if s.mastery != nil {
		s.mastery.Flush(ctx, change)
	}
}
