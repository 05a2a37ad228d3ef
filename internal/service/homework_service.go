package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
)

var (
	// ErrHomeworkNotFound indicates the homework does not exist.
	ErrHomeworkNotFound = errors.New("homework not found")
	// ErrHomeworkTaskNotFound indicates the homework task does not exist.
	ErrHomeworkTaskNotFound = errors.New("homework task not found")
	// ErrHomeworkQuestionNotFound indicates the homework question does not exist.
	ErrHomeworkQuestionNotFound = errors.New("homework question not found")
	// ErrHomeworkClosed indicates the homework no longer accepts changes or work.
	ErrHomeworkClosed = errors.New("homework is closed")
	// ErrHomeworkNotPublished indicates students cannot see the homework yet.
	ErrHomeworkNotPublished = errors.New("homework is not published")
	// ErrHomeworkEmpty indicates a homework without tasks cannot be published.
	ErrHomeworkEmpty = errors.New("homework has no tasks")
	// ErrNotAssigned indicates the student is not on the homework roster.
	ErrNotAssigned = errors.New("homework is not assigned to this student")
	// ErrInvalidQuestion indicates an authored question is not gradable.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrQuestionNotActive indicates the question version was replaced.
	ErrQuestionNotActive = errors.New("question version is no longer active")
	// ErrQuestionNotInTask indicates the question belongs to another task.
	ErrQuestionNotInTask = errors.New("question does not belong to this task")
)

// HomeworkService authors and publishes homework.
type HomeworkService interface {
	Create(ctx context.Context, actor Actor, payload dto.HomeworkCreateRequest) (dto.HomeworkResponse, error)
	Get(ctx context.Context, actor Actor, homeworkID uint) (dto.HomeworkResponse, error)
	AddTask(ctx context.Context, actor Actor, homeworkID uint, payload dto.HomeworkTaskCreateRequest) (dto.HomeworkTaskResponse, error)
	AddQuestion(ctx context.Context, actor Actor, taskID uint, payload dto.HomeworkQuestionRequest) (dto.HomeworkQuestionResponse, error)
	EditQuestion(ctx context.Context, actor Actor, questionID uint, payload dto.HomeworkQuestionRequest) (dto.HomeworkQuestionResponse, error)
	QuestionHistory(ctx context.Context, actor Actor, questionID uint) ([]dto.HomeworkQuestionResponse, error)
	Publish(ctx context.Context, actor Actor, homeworkID uint, payload dto.HomeworkPublishRequest) (dto.HomeworkResponse, error)
	Close(ctx context.Context, actor Actor, homeworkID uint) (dto.HomeworkResponse, error)
}

type homeworkService struct {
	tx          repository.Transactor
	homework    repository.HomeworkRepository
	submissions repository.TaskSubmissionRepository
	validator   *validator.Validate
	richText    *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewHomeworkService constructs the homework authoring service.
func NewHomeworkService(
	tx repository.Transactor,
	homework repository.HomeworkRepository,
	submissions repository.TaskSubmissionRepository,
	validate *validator.Validate,
	logger zerolog.Logger,
) HomeworkService {
	return &homeworkService{
		tx:          tx,
		homework:    homework,
		submissions: submissions,
		validator:   validate,
		richText:    bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "homework_service").Logger(),
		now:         time.Now,
	}
}

func (s *homeworkService) Create(ctx context.Context, actor Actor, payload dto.HomeworkCreateRequest) (dto.HomeworkResponse, error) {
	if !actor.IsStaff() {
		return dto.HomeworkResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.HomeworkResponse{}, err
	}

	schoolID := actor.SchoolID
	homework := models.Homework{
		SchoolID:              &schoolID,
		ClassID:               payload.ClassID,
		TeacherID:             actor.ID,
		Title:                 strings.TrimSpace(payload.Title),
		Description:           s.richText.Sanitize(payload.Description),
		Status:                models.HomeworkStatusDraft,
		DueDate:               payload.DueDate,
		AICheckEnabled:        payload.AICheckEnabled,
		LateSubmissionAllowed: payload.LateSubmissionAllowed,
		GracePeriodHours:      payload.GracePeriodHours,
		LatePenaltyPerDay:     payload.LatePenaltyPerDay,
		MaxLateDays:           payload.MaxLateDays,
	}
	if err := s.homework.CreateHomework(ctx, &homework); err != nil {
		return dto.HomeworkResponse{}, err
	}

	s.logger.Info().Uint("homework_id", homework.ID).Uint("teacher_id", actor.ID).Msg("homework created")
	return dto.NewHomeworkResponse(homework), nil
}

// Get returns the authoring view to staff and the task list to assigned students.
func (s *homeworkService) Get(ctx context.Context, actor Actor, homeworkID uint) (dto.HomeworkResponse, error) {
	homework, err := s.homework.GetHomework(ctx, homeworkID)
	if err != nil {
		return dto.HomeworkResponse{}, notFoundAs(err, ErrHomeworkNotFound)
	}
	if !actor.CanSee(homework.SchoolID) {
		return dto.HomeworkResponse{}, ErrForbidden
	}

	if !actor.IsStaff() {
		if homework.Status == models.HomeworkStatusDraft {
			return dto.HomeworkResponse{}, ErrHomeworkNotPublished
		}
		assigned, err := s.homework.IsOnRoster(ctx, homework.ID, actor.ID)
		if err != nil {
			return dto.HomeworkResponse{}, err
		}
		if !assigned {
			return dto.HomeworkResponse{}, ErrNotAssigned
		}
		return dto.NewHomeworkResponse(homework), nil
	}

	if err := ensureHomeworkOwner(actor, homework); err != nil {
		return dto.HomeworkResponse{}, err
	}

	for i := range homework.Tasks {
		questions, err := s.homework.ListActiveQuestions(ctx, homework.Tasks[i].ID)
		if err != nil {
			return dto.HomeworkResponse{}, err
		}
		homework.Tasks[i].Questions = questions
	}

	roster, err := s.homework.ListRoster(ctx, homework.ID)
	if err != nil {
		return dto.HomeworkResponse{}, err
	}

	response := dto.NewHomeworkResponse(homework)
	response.AssignedStudents = len(roster)
	return response, nil
}

func (s *homeworkService) AddTask(ctx context.Context, actor Actor, homeworkID uint, payload dto.HomeworkTaskCreateRequest) (dto.HomeworkTaskResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.HomeworkTaskResponse{}, err
	}

	homework, err := s.homework.GetHomework(ctx, homeworkID)
	if err != nil {
		return dto.HomeworkTaskResponse{}, notFoundAs(err, ErrHomeworkNotFound)
	}
	if err := s.ensureEditable(actor, homework); err != nil {
		return dto.HomeworkTaskResponse{}, err
	}

	task := models.HomeworkTask{
		HomeworkID:   homework.ID,
		ParagraphID:  payload.ParagraphID,
		Title:        strings.TrimSpace(payload.Title),
		Instructions: s.richText.Sanitize(payload.Instructions),
		SortOrder:    payload.SortOrder,
		MaxAttempts:  payload.MaxAttempts,
	}
	if err := s.homework.CreateTask(ctx, &task); err != nil {
		return dto.HomeworkTaskResponse{}, err
	}

	return dto.NewHomeworkTaskResponse(task), nil
}

func (s *homeworkService) AddQuestion(ctx context.Context, actor Actor, taskID uint, payload dto.HomeworkQuestionRequest) (dto.HomeworkQuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	task, err := s.homework.GetTask(ctx, taskID)
	if err != nil {
		return dto.HomeworkQuestionResponse{}, notFoundAs(err, ErrHomeworkTaskNotFound)
	}
	if err := s.ensureEditable(actor, task.Homework); err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	question, err := BuildHomeworkQuestion(payload)
	if err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}
	question.TaskID = task.ID
	question.Version = 1
	question.IsActive = true

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.homework.CreateQuestion(ctx, &question); err != nil {
			return err
		}
		question.SlotID = question.ID
		return s.homework.UpdateQuestion(ctx, &question)
	})
	if err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	return dto.NewHomeworkQuestionResponse(question), nil
}

// EditQuestion edits an unanswered version in place and otherwise appends a new version to the slot.
func (s *homeworkService) EditQuestion(ctx context.Context, actor Actor, questionID uint, payload dto.HomeworkQuestionRequest) (dto.HomeworkQuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	current, err := s.homework.GetQuestion(ctx, questionID)
	if err != nil {
		return dto.HomeworkQuestionResponse{}, notFoundAs(err, ErrHomeworkQuestionNotFound)
	}
	if !current.IsActive {
		return dto.HomeworkQuestionResponse{}, ErrQuestionNotActive
	}

	task, err := s.homework.GetTask(ctx, current.TaskID)
	if err != nil {
		return dto.HomeworkQuestionResponse{}, notFoundAs(err, ErrHomeworkTaskNotFound)
	}
	if err := s.ensureEditable(actor, task.Homework); err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	edited, err := BuildHomeworkQuestion(payload)
	if err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	var result models.HomeworkTaskQuestion
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.homework.GetQuestionForUpdate(ctx, current.ID)
		if err != nil {
			return notFoundAs(err, ErrHomeworkQuestionNotFound)
		}
		if !locked.IsActive {
			return ErrQuestionNotActive
		}
		current = locked

		answered, err := s.submissions.CountAnswersForQuestion(ctx, current.ID)
		if err != nil {
			return err
		}

		if answered == 0 {
			current.QuestionType = edited.QuestionType
			current.QuestionText = edited.QuestionText
			current.Options = edited.Options
			current.CorrectAnswer = edited.CorrectAnswer
			current.Rubric = edited.Rubric
			current.Points = edited.Points
			current.SortOrder = edited.SortOrder
			result = current
			return s.homework.UpdateQuestion(ctx, &result)
		}

		edited.TaskID = current.TaskID
		edited.SlotID = current.SlotID
		edited.SortOrder = current.SortOrder
		edited.Version = current.Version + 1
		edited.IsActive = true
		if err := s.homework.CreateQuestion(ctx, &edited); err != nil {
			return err
		}

		retired, err := s.homework.RetireQuestion(ctx, current.ID, edited.ID)
		if err != nil {
			return err
		}
		if !retired {
			return ErrQuestionNotActive
		}
		current.IsActive = false
		current.ReplacedByID = &edited.ID
		result = edited
		return nil
	})
	if err != nil {
		return dto.HomeworkQuestionResponse{}, err
	}

	if result.ID != current.ID {
		s.logger.Info().
			Uint("slot_id", result.SlotID).
			Int("version", result.Version).
			Uint("replaced_id", current.ID).
			Msg("answered question replaced by new version")
	}

	return dto.NewHomeworkQuestionResponse(result), nil
}

func (s *homeworkService) QuestionHistory(ctx context.Context, actor Actor, questionID uint) ([]dto.HomeworkQuestionResponse, error) {
	question, err := s.homework.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, notFoundAs(err, ErrHomeworkQuestionNotFound)
	}

	task, err := s.homework.GetTask(ctx, question.TaskID)
	if err != nil {
		return nil, notFoundAs(err, ErrHomeworkTaskNotFound)
	}
	if err := ensureHomeworkOwner(actor, task.Homework); err != nil {
		return nil, err
	}

	versions, err := s.homework.ListQuestionVersions(ctx, question.SlotID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.HomeworkQuestionResponse, 0, len(versions))
	for _, version := range versions {
		responses = append(responses, dto.NewHomeworkQuestionResponse(version))
	}
	return responses, nil
}

// Publish moves a draft to published and extends the roster on every call.
func (s *homeworkService) Publish(ctx context.Context, actor Actor, homeworkID uint, payload dto.HomeworkPublishRequest) (dto.HomeworkResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.HomeworkResponse{}, err
	}

	var homework models.Homework
	var assigned int
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		homework, err = s.homework.GetHomework(ctx, homeworkID)
		if err != nil {
			return notFoundAs(err, ErrHomeworkNotFound)
		}
		if err := s.ensureEditable(actor, homework); err != nil {
			return err
		}
		if len(homework.Tasks) == 0 {
			return ErrHomeworkEmpty
		}

		now := s.now()
		if homework.Status == models.HomeworkStatusDraft {
			homework.Status = models.HomeworkStatusPublished
			homework.PublishedAt = &now
			if err := s.homework.UpdateHomework(ctx, &homework); err != nil {
				return err
			}
		}

		if err := s.homework.AddToRoster(ctx, homework.ID, payload.StudentIDs, now); err != nil {
			return err
		}
		roster, err := s.homework.ListRoster(ctx, homework.ID)
		if err != nil {
			return err
		}
		assigned = len(roster)
		return nil
	})
	if err != nil {
		return dto.HomeworkResponse{}, err
	}

	s.logger.Info().Uint("homework_id", homework.ID).Int("assigned_students", assigned).Msg("homework published")

	response := dto.NewHomeworkResponse(homework)
	response.AssignedStudents = assigned
	return response, nil
}

func (s *homeworkService) Close(ctx context.Context, actor Actor, homeworkID uint) (dto.HomeworkResponse, error) {
	homework, err := s.homework.GetHomework(ctx, homeworkID)
	if err != nil {
		return dto.HomeworkResponse{}, notFoundAs(err, ErrHomeworkNotFound)
	}
	if err := ensureHomeworkOwner(actor, homework); err != nil {
		return dto.HomeworkResponse{}, err
	}
	if homework.Status == models.HomeworkStatusClosed {
		return dto.NewHomeworkResponse(homework), nil
	}

	homework.Status = models.HomeworkStatusClosed
	if err := s.homework.UpdateHomework(ctx, &homework); err != nil {
		return dto.HomeworkResponse{}, err
	}

	return dto.NewHomeworkResponse(homework), nil
}

// ensureHomeworkOwner admits the authoring teacher and admins of the homework's school.
func ensureHomeworkOwner(actor Actor, homework models.Homework) error {
	if !actor.IsStaff() || !actor.CanSee(homework.SchoolID) {
		return ErrForbidden
	}
	if actor.Role != RoleAdmin && homework.TeacherID != actor.ID {
		return ErrForbidden
	}
	return nil
}

func (s *homeworkService) ensureEditable(actor Actor, homework models.Homework) error {
	if err := ensureHomeworkOwner(actor, homework); err != nil {
		return err
	}
	if homework.Status == models.HomeworkStatusClosed {
		return ErrHomeworkClosed
	}
	return nil
}

// BuildHomeworkQuestion validates an authored question and assigns ordinal option ids.
func BuildHomeworkQuestion(payload dto.HomeworkQuestionRequest) (models.HomeworkTaskQuestion, error) {
	questionType := models.QuestionType(payload.QuestionType)
	question := models.HomeworkTaskQuestion{
		QuestionType: questionType,
		QuestionText: strings.TrimSpace(payload.QuestionText),
		Points:       payload.Points,
		SortOrder:    payload.SortOrder,
	}

	switch {
	case questionType.IsChoice():
		if len(payload.Options) < 2 {
			return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: choice questions need at least two options", ErrInvalidQuestion)
		}
		if questionType == models.QuestionTypeTrueFalse && len(payload.Options) != 2 {
			return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: true/false questions need exactly two options", ErrInvalidQuestion)
		}

		correct := 0
		options := make([]models.HomeworkOption, 0, len(payload.Options))
		for i, option := range payload.Options {
			if option.IsCorrect {
				correct++
			}
			options = append(options, models.HomeworkOption{
				ID:        uint(i + 1),
				Text:      strings.TrimSpace(option.Text),
				IsCorrect: option.IsCorrect,
			})
		}
		if correct == 0 {
			return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: at least one option must be correct", ErrInvalidQuestion)
		}
		if questionType != models.QuestionTypeMultipleChoice && correct != 1 {
			return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: exactly one option must be correct", ErrInvalidQuestion)
		}
		question.Options = options
	case questionType == models.QuestionTypeShortAnswer:
		question.CorrectAnswer = strings.TrimSpace(payload.CorrectAnswer)
		if question.CorrectAnswer == "" {
			return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: short answer questions need a correct answer", ErrInvalidQuestion)
		}
	case questionType == models.QuestionTypeOpenEnded:
		question.Rubric = strings.TrimSpace(payload.Rubric)
	default:
		return models.HomeworkTaskQuestion{}, fmt.Errorf("%w: unsupported type %q", ErrInvalidQuestion, payload.QuestionType)
	}

	return question, nil
}
