package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/observability"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/internal/scoring"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

var (
	// ErrSubmissionNotFound indicates the task submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTaskAnswerNotFound indicates the answer does not exist.
	ErrTaskAnswerNotFound = errors.New("answer not found")
	// ErrSubmissionNotInProgress indicates the submission was already completed.
	ErrSubmissionNotInProgress = errors.New("submission is not in progress")
	// ErrSubmissionNotCompleted indicates a review was attempted before completion.
	ErrSubmissionNotCompleted = errors.New("submission has not been completed")
	// ErrAttemptsExceeded indicates the task's attempt budget is used up.
	ErrAttemptsExceeded = errors.New("maximum attempts reached")
	// ErrInvalidOverride indicates a teacher score outside [0, max score].
	ErrInvalidOverride = errors.New("override score is out of range")
)

// AttemptsExceededError carries the numbers behind ErrAttemptsExceeded.
type AttemptsExceededError struct {
	Used int
	Max  int
}

func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("maximum attempts reached: %d of %d used", e.Used, e.Max)
}

// Unwrap lets errors.Is match ErrAttemptsExceeded.
func (e *AttemptsExceededError) Unwrap() error {
	return ErrAttemptsExceeded
}

// TaskSubmissionOptions tunes open-ended grading.
type TaskSubmissionOptions struct {
	ReviewThreshold float64
	AITimeout       time.Duration
	Language        string
}

// TaskSubmissionService runs student work on homework tasks and the teacher review loop.
type TaskSubmissionService interface {
	Start(ctx context.Context, actor Actor, taskID uint) (dto.TaskStartResponse, error)
	SaveAnswer(ctx context.Context, actor Actor, submissionID uint, payload dto.TaskAnswerRequest) (dto.TaskAnswerResponse, error)
	Complete(ctx context.Context, actor Actor, submissionID uint) (dto.TaskSubmissionResponse, error)
	Get(ctx context.Context, actor Actor, submissionID uint) (dto.TaskSubmissionResponse, error)
	Review(ctx context.Context, actor Actor, answerID uint, payload dto.AnswerReviewRequest) (dto.AnswerReviewResponse, error)
	ReviewQueue(ctx context.Context, actor Actor, homeworkID uint) ([]dto.TaskSubmissionResponse, error)
}

type taskSubmissionService struct {
	tx          repository.Transactor
	homework    repository.HomeworkRepository
	submissions repository.TaskSubmissionRepository
	grader      ai.Grader
	events      EventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	opts        TaskSubmissionOptions
	logger      zerolog.Logger
	now         func() time.Time
}

// NewTaskSubmissionService constructs the submission service. grader may be nil,
// in which case open-ended answers are always routed to a teacher.
func NewTaskSubmissionService(
	tx repository.Transactor,
	homework repository.HomeworkRepository,
	submissions repository.TaskSubmissionRepository,
	grader ai.Grader,
	events EventPublisher,
	validate *validator.Validate,
	opts TaskSubmissionOptions,
	logger zerolog.Logger,
) TaskSubmissionService {
	return &taskSubmissionService{
		tx:          tx,
		homework:    homework,
		submissions: submissions,
		grader:      grader,
		events:      events,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		opts:        opts,
		logger:      logger.With().Str("component", "task_submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *taskSubmissionService) Start(ctx context.Context, actor Actor, taskID uint) (dto.TaskStartResponse, error) {
	task, err := s.homework.GetTask(ctx, taskID)
	if err != nil {
		return dto.TaskStartResponse{}, notFoundAs(err, ErrHomeworkTaskNotFound)
	}
	homework := task.Homework
	if err := s.ensureAssigned(ctx, actor, homework); err != nil {
		return dto.TaskStartResponse{}, err
	}
	if _, err := scoring.CalculateLatePenalty(latePolicy(homework), homework.DueDate, s.now()); err != nil {
		return dto.TaskStartResponse{}, err
	}

	var submission models.StudentTaskSubmission
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		previous, err := s.submissions.ListByStudentAndTask(ctx, actor.ID, task.ID)
		if err != nil {
			return err
		}
		for _, candidate := range previous {
			if candidate.Status == models.SubmissionStatusInProgress {
				submission = candidate
				return nil
			}
		}

		if len(previous) >= task.MaxAttempts {
			return &AttemptsExceededError{Used: len(previous), Max: task.MaxAttempts}
		}

		submission = models.StudentTaskSubmission{
			HomeworkID:    homework.ID,
			TaskID:        task.ID,
			StudentID:     actor.ID,
			AttemptNumber: len(previous) + 1,
			Status:        models.SubmissionStatusInProgress,
			StartedAt:     s.now(),
		}
		return s.submissions.Create(ctx, &submission)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return dto.TaskStartResponse{}, ErrConcurrentAttempt
		}
		return dto.TaskStartResponse{}, err
	}

	submission.Answers, err = s.submissions.ListAnswers(ctx, submission.ID)
	if err != nil {
		return dto.TaskStartResponse{}, err
	}

	questions, err := s.homework.ListActiveQuestions(ctx, task.ID)
	if err != nil {
		return dto.TaskStartResponse{}, err
	}

	return dto.TaskStartResponse{
		Submission:   dto.NewTaskSubmissionResponse(submission),
		Questions:    dto.NewHomeworkQuestionViews(questions),
		AttemptsUsed: submission.AttemptNumber,
		MaxAttempts:  task.MaxAttempts,
		DueDate:      homework.DueDate,
	}, nil
}

func (s *taskSubmissionService) SaveAnswer(ctx context.Context, actor Actor, submissionID uint, payload dto.TaskAnswerRequest) (dto.TaskAnswerResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TaskAnswerResponse{}, err
	}

	var answer models.StudentTaskAnswer
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		submission, err := s.openSubmission(ctx, actor, submissionID)
		if err != nil {
			return err
		}

		// Locking the version keeps an edit from retiring it between this check and the insert.
		question, err := s.homework.GetQuestionForUpdate(ctx, payload.QuestionID)
		if err != nil {
			return &QuestionError{QuestionID: payload.QuestionID, Err: notFoundAs(err, ErrQuestionNotInTask)}
		}
		if question.TaskID != submission.TaskID {
			return &QuestionError{QuestionID: question.ID, Err: ErrQuestionNotInTask}
		}
		if !question.IsActive {
			return &QuestionError{QuestionID: question.ID, Err: ErrQuestionNotActive}
		}
		for _, existing := range submission.Answers {
			if existing.QuestionID == question.ID || existing.Question.SlotID == question.SlotID {
				return &QuestionError{QuestionID: question.ID, Err: ErrDuplicateAnswer}
			}
		}

		answer = models.StudentTaskAnswer{
			SubmissionID:      submission.ID,
			QuestionID:        question.ID,
			SelectedOptionIDs: payload.SelectedOptionIDs,
			AnswerText:        s.sanitizer.Sanitize(payload.AnswerText),
			MaxScore:          question.Points,
		}
		if err := s.submissions.CreateAnswer(ctx, &answer); err != nil {
			if repository.IsUniqueViolation(err) {
				return &QuestionError{QuestionID: question.ID, Err: ErrDuplicateAnswer}
			}
			return err
		}
		answer.Question = question
		return nil
	})
	if err != nil {
		return dto.TaskAnswerResponse{}, err
	}

	return dto.NewTaskAnswerResponse(answer), nil
}

// Complete grades every answer, applies the late policy and routes uncertain answers to review.
// AI calls run before the write transaction so a slow model never holds row locks.
func (s *taskSubmissionService) Complete(ctx context.Context, actor Actor, submissionID uint) (dto.TaskSubmissionResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-mastery-api/internal/service/task_submission")
	ctx, span := tracer.Start(ctx, "submission.complete")
	span.SetAttributes(attribute.Int64("submission.id", int64(submissionID)))
	defer span.End()

	submission, err := s.openSubmission(ctx, actor, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_unavailable")
		return dto.TaskSubmissionResponse{}, err
	}
	homework := submission.Task.Homework

	submittedAt := s.now()
	penalty, err := scoring.CalculateLatePenalty(latePolicy(homework), homework.DueDate, submittedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "late_policy_rejected")
		return dto.TaskSubmissionResponse{}, err
	}

	policy := scoring.OpenEndedPolicy{
		AICheckEnabled:  homework.AICheckEnabled,
		ReviewThreshold: s.opts.ReviewThreshold,
		Timeout:         s.opts.AITimeout,
		Language:        s.opts.Language,
	}

	graded := make([]models.StudentTaskAnswer, 0, len(submission.Answers))
	flagReasons := make([]string, 0)
	for _, answer := range submission.Answers {
		result, err := scoring.GradeAnswer(ctx, s.grader, policy, homeworkGradingQuestion(answer.Question), scoring.Answer{
			SelectedOptionIDs: []uint(answer.SelectedOptionIDs),
			Text:              answer.AnswerText,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "grading_failed")
			return dto.TaskSubmissionResponse{}, &QuestionError{QuestionID: answer.QuestionID, Err: err}
		}

		if result.AI != nil && result.AI.Failed {
			s.logger.Warn().Uint("answer_id", answer.ID).Uint("submission_id", submission.ID).Msg("ai grading failed, routing answer to teacher review")
		}
		if result.Flagged {
			flagReasons = append(flagReasons, flagReason(result))
		}

		graded = append(graded, s.applyResult(answer, result))
	}

	activeQuestions, err := s.homework.ListActiveQuestions(ctx, submission.TaskID)
	if err != nil {
		span.RecordError(err)
		return dto.TaskSubmissionResponse{}, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.submissions.GetForUpdate(ctx, submission.ID)
		if err != nil {
			return err
		}
		if current.Status != models.SubmissionStatusInProgress {
			return ErrSubmissionNotInProgress
		}
		if !sameAnswers(current.Answers, graded) {
			return ErrSubmissionChanged
		}

		for i := range graded {
			if err := s.submissions.UpdateAnswer(ctx, &graded[i]); err != nil {
				return err
			}
		}

		raw, flagged := combineScores(graded)
		submission.SubmittedAt = &submittedAt
		submission.MaxScore = slotMaxScore(graded, activeQuestions)
		submission.IsLate = penalty.IsLate
		submission.LatePenaltyApplied = penalty.Percent
		applyPenalty(&submission, raw)
		submission.Status = models.SubmissionStatusGraded
		if flagged {
			submission.Status = models.SubmissionStatusNeedsReview
		}
		moved, err := s.submissions.Transition(ctx, &submission, models.SubmissionStatusInProgress)
		if err != nil {
			return err
		}
		if !moved {
			return ErrSubmissionNotInProgress
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return dto.TaskSubmissionResponse{}, err
	}
	submission.Answers = graded

	for _, reason := range flagReasons {
		observability.AnswersFlagged().WithLabelValues(reason).Inc()
	}
	observability.SubmissionsCompleted().WithLabelValues(string(submission.Status), strconv.FormatBool(submission.IsLate)).Inc()

	span.SetAttributes(
		attribute.Float64("submission.score", submission.Score),
		attribute.String("submission.status", string(submission.Status)),
		attribute.Int("submission.flagged", len(flagReasons)),
	)

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("status", string(submission.Status)).
		Float64("score", submission.Score).
		Bool("late", submission.IsLate).
		Msg("task submission completed")

	response := dto.NewTaskSubmissionResponse(submission)
	eventType := EventSubmissionGraded
	if submission.Status == models.SubmissionStatusNeedsReview {
		eventType = EventSubmissionNeedsReview
	}
	publishEvent(ctx, s.events, s.logger, eventType, response)

	return response, nil
}

func (s *taskSubmissionService) Get(ctx context.Context, actor Actor, submissionID uint) (dto.TaskSubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return dto.TaskSubmissionResponse{}, notFoundAs(err, ErrSubmissionNotFound)
	}
	if submission.StudentID != actor.ID {
		if err := ensureHomeworkOwner(actor, submission.Task.Homework); err != nil {
			return dto.TaskSubmissionResponse{}, err
		}
	}
	return dto.NewTaskSubmissionResponse(submission), nil
}

// Review records a teacher override, appends it to the audit trail and recombines the submission score.
func (s *taskSubmissionService) Review(ctx context.Context, actor Actor, answerID uint, payload dto.AnswerReviewRequest) (dto.AnswerReviewResponse, error) {
	if !actor.IsStaff() {
		return dto.AnswerReviewResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnswerReviewResponse{}, err
	}

	var (
		submission models.StudentTaskSubmission
		reviewed   models.StudentTaskAnswer
		history    []models.AnswerReviewHistory
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		located, err := s.submissions.GetAnswer(ctx, answerID)
		if err != nil {
			return notFoundAs(err, ErrTaskAnswerNotFound)
		}

		submission, err = s.submissions.GetForUpdate(ctx, located.SubmissionID)
		if err != nil {
			return notFoundAs(err, ErrSubmissionNotFound)
		}
		// Re-read under the lock so a concurrent review of a sibling answer is not lost.
		answer, ok := findAnswer(submission.Answers, answerID)
		if !ok {
			return ErrTaskAnswerNotFound
		}
		if err := ensureHomeworkOwner(actor, submission.Task.Homework); err != nil {
			return err
		}
		if submission.Status == models.SubmissionStatusInProgress {
			return ErrSubmissionNotCompleted
		}

		score := *payload.Score
		if score < 0 || score > answer.MaxScore {
			return fmt.Errorf("%w: %.2f not within [0, %.2f]", ErrInvalidOverride, score, answer.MaxScore)
		}

		reviewedAt := s.now()
		reviewer := actor.ID
		previous := answer.EffectiveScore()
		answer.TeacherOverrideScore = &score
		answer.TeacherComment = s.sanitizer.Sanitize(payload.Comment)
		answer.ReviewedBy = &reviewer
		answer.ReviewedAt = &reviewedAt
		answer.FlaggedForReview = false
		if err := s.submissions.UpdateAnswer(ctx, &answer); err != nil {
			return err
		}

		if err := s.submissions.CreateReview(ctx, &models.AnswerReviewHistory{
			AnswerID:      answer.ID,
			SubmissionID:  submission.ID,
			PreviousScore: previous,
			Score:         score,
			Comment:       answer.TeacherComment,
			ReviewedBy:    reviewer,
			ReviewedAt:    reviewedAt,
		}); err != nil {
			return err
		}

		for i := range submission.Answers {
			if submission.Answers[i].ID == answer.ID {
				submission.Answers[i] = answer
			}
		}

		raw, flagged := combineScores(submission.Answers)
		applyPenalty(&submission, raw)
		submission.Status = models.SubmissionStatusGraded
		if flagged {
			submission.Status = models.SubmissionStatusNeedsReview
		}
		if err := s.submissions.Update(ctx, &submission); err != nil {
			return err
		}

		history, err = s.submissions.ListReviews(ctx, answer.ID)
		reviewed = answer
		return err
	})
	if err != nil {
		return dto.AnswerReviewResponse{}, err
	}

	response := dto.AnswerReviewResponse{
		Answer:     dto.NewTaskAnswerResponse(reviewed),
		Submission: dto.NewTaskSubmissionResponse(submission),
		History:    dto.NewAnswerReviewHistory(history),
	}

	s.logger.Info().
		Uint("answer_id", reviewed.ID).
		Uint("submission_id", submission.ID).
		Uint("reviewer_id", actor.ID).
		Float64("score", submission.Score).
		Msg("answer reviewed")

	publishEvent(ctx, s.events, s.logger, EventSubmissionReviewUpdated, response.Submission)

	return response, nil
}

func (s *taskSubmissionService) ReviewQueue(ctx context.Context, actor Actor, homeworkID uint) ([]dto.TaskSubmissionResponse, error) {
	homework, err := s.homework.GetHomework(ctx, homeworkID)
	if err != nil {
		return nil, notFoundAs(err, ErrHomeworkNotFound)
	}
	if err := ensureHomeworkOwner(actor, homework); err != nil {
		return nil, err
	}

	pending, err := s.submissions.ListNeedingReview(ctx, homework.ID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.TaskSubmissionResponse, 0, len(pending))
	for _, submission := range pending {
		responses = append(responses, dto.NewTaskSubmissionResponse(submission))
	}
	return responses, nil
}

func (s *taskSubmissionService) ensureAssigned(ctx context.Context, actor Actor, homework models.Homework) error {
	if !actor.CanSee(homework.SchoolID) {
		return ErrForbidden
	}
	switch homework.Status {
	case models.HomeworkStatusDraft:
		return ErrHomeworkNotPublished
	case models.HomeworkStatusClosed:
		return ErrHomeworkClosed
	}

	assigned, err := s.homework.IsOnRoster(ctx, homework.ID, actor.ID)
	if err != nil {
		return err
	}
	if !assigned {
		return ErrNotAssigned
	}
	return nil
}

// openSubmission loads a submission its owner may still change.
// openSubmission locks the submission when called inside a transaction, so answer writes
// and completion of the same submission never interleave.
func (s *taskSubmissionService) openSubmission(ctx context.Context, actor Actor, submissionID uint) (models.StudentTaskSubmission, error) {
	submission, err := s.submissions.GetForUpdate(ctx, submissionID)
	if err != nil {
		return models.StudentTaskSubmission{}, notFoundAs(err, ErrSubmissionNotFound)
	}
	if submission.StudentID != actor.ID {
		return models.StudentTaskSubmission{}, ErrForbidden
	}
	if submission.Status != models.SubmissionStatusInProgress {
		return models.StudentTaskSubmission{}, ErrSubmissionNotInProgress
	}
	if submission.Task.Homework.Status == models.HomeworkStatusClosed {
		return models.StudentTaskSubmission{}, ErrHomeworkClosed
	}
	return submission, nil
}

// sameAnswers reports whether the stored answers are exactly the ones that were graded.
func sameAnswers(stored, graded []models.StudentTaskAnswer) bool {
	if len(stored) != len(graded) {
		return false
	}
	ids := make(map[uint]struct{}, len(graded))
	for _, answer := range graded {
		ids[answer.ID] = struct{}{}
	}
	for _, answer := range stored {
		if _, ok := ids[answer.ID]; !ok {
			return false
		}
	}
	return true
}

func findAnswer(answers []models.StudentTaskAnswer, id uint) (models.StudentTaskAnswer, bool) {
	for _, answer := range answers {
		if answer.ID == id {
			return answer, true
		}
	}
	return models.StudentTaskAnswer{}, false
}

func (s *taskSubmissionService) applyResult(answer models.StudentTaskAnswer, result scoring.Result) models.StudentTaskAnswer {
	answer.IsCorrect = result.IsCorrect
	answer.Score = result.Score
	answer.MaxScore = result.MaxScore
	answer.FlaggedForReview = result.Flagged

	if result.AI != nil && !result.AI.Failed {
		aiScore := result.AI.Score
		confidence := result.AI.Confidence
		answer.AIScore = &aiScore
		answer.AIConfidence = &confidence
		answer.AIFeedback = s.sanitizer.Sanitize(result.AI.Feedback)
		if len(result.AI.RubricScores) > 0 {
			rubric := make(datatypes.JSONMap, len(result.AI.RubricScores))
			for key, value := range result.AI.RubricScores {
				rubric[key] = value
			}
			answer.AIRubricScores = rubric
		}
	}
	return answer
}

func latePolicy(homework models.Homework) scoring.LatePolicy {
	return scoring.LatePolicy{
		Allowed:       homework.LateSubmissionAllowed,
		GracePeriod:   time.Duration(homework.GracePeriodHours) * time.Hour,
		PenaltyPerDay: homework.LatePenaltyPerDay,
		MaxLateDays:   homework.MaxLateDays,
	}
}

func homeworkGradingQuestion(question models.HomeworkTaskQuestion) scoring.Question {
	return scoring.Question{
		Type:             question.QuestionType,
		Points:           question.Points,
		CorrectOptionIDs: question.CorrectOptionIDs(),
		CorrectAnswer:    question.CorrectAnswer,
		Text:             question.QuestionText,
		Rubric:           question.Rubric,
	}
}

func flagReason(result scoring.Result) string {
	switch {
	case result.AI == nil:
		return "ai_disabled"
	case result.AI.Failed:
		return "ai_failed"
	default:
		return "low_confidence"
	}
}

// combineScores sums effective scores and reports whether any answer still awaits a teacher.
func combineScores(answers []models.StudentTaskAnswer) (float64, bool) {
	var raw float64
	flagged := false
	for _, answer := range answers {
		raw += answer.EffectiveScore()
		flagged = flagged || answer.FlaggedForReview
	}
	return raw, flagged
}

func applyPenalty(submission *models.StudentTaskSubmission, raw float64) {
	if !submission.IsLate {
		submission.OriginalScore = nil
		submission.Score = raw
		return
	}
	original := raw
	submission.OriginalScore = &original
	submission.Score = scoring.ApplyLatePenalty(raw, submission.LatePenaltyApplied)
}

// slotMaxScore counts each question slot once: answered slots at the answered version's points,
// unanswered slots at the active version's points.
func slotMaxScore(answers []models.StudentTaskAnswer, active []models.HomeworkTaskQuestion) float64 {
	answered := make(map[uint]struct{}, len(answers))
	var total float64
	for _, answer := range answers {
		answered[answer.Question.SlotID] = struct{}{}
		total += answer.MaxScore
	}
	for _, question := range active {
		if _, ok := answered[question.SlotID]; !ok {
			total += question.Points
		}
	}
	return total
}
