package dto

import (
	"time"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// HomeworkCreateRequest creates a draft homework.
type HomeworkCreateRequest struct {
	ClassID               uint      `json:"class_id" validate:"required"`
	Title                 string    `json:"title" validate:"required,max=255"`
	Description           string    `json:"description" validate:"max=5000"`
	DueDate               time.Time `json:"due_date" validate:"required"`
	AICheckEnabled        bool      `json:"ai_check_enabled"`
	LateSubmissionAllowed bool      `json:"late_submission_allowed"`
	GracePeriodHours      int       `json:"grace_period_hours" validate:"gte=0,lte=168"`
	LatePenaltyPerDay     float64   `json:"late_penalty_per_day" validate:"gte=0,lte=100"`
	MaxLateDays           int       `json:"max_late_days" validate:"gte=0,lte=60"`
}

// HomeworkTaskCreateRequest adds a task to a homework.
type HomeworkTaskCreateRequest struct {
	ParagraphID  *uint  `json:"paragraph_id"`
	Title        string `json:"title" validate:"required,max=255"`
	Instructions string `json:"instructions" validate:"max=5000"`
	SortOrder    int    `json:"sort_order" validate:"gte=0"`
	MaxAttempts  int    `json:"max_attempts" validate:"required,gte=1,lte=20"`
}

// HomeworkOptionRequest is one choice option of a homework question.
type HomeworkOptionRequest struct {
	Text      string `json:"text" validate:"required,max=1000"`
	IsCorrect bool   `json:"is_correct"`
}

// HomeworkQuestionRequest creates or edits a homework question.
type HomeworkQuestionRequest struct {
	QuestionType  string                  `json:"question_type" validate:"required,oneof=single_choice multiple_choice true_false short_answer open_ended"`
	QuestionText  string                  `json:"question_text" validate:"required,max=5000"`
	Options       []HomeworkOptionRequest `json:"options" validate:"max=20,dive"`
	CorrectAnswer string                  `json:"correct_answer" validate:"max=2000"`
	Rubric        string                  `json:"rubric" validate:"max=5000"`
	Points        float64                 `json:"points" validate:"gt=0,lte=1000"`
	SortOrder     int                     `json:"sort_order" validate:"gte=0"`
}

// HomeworkPublishRequest publishes a homework to a pre-resolved roster.
type HomeworkPublishRequest struct {
	StudentIDs []uint `json:"student_ids" validate:"required,min=1,max=1000,dive,required"`
}

// HomeworkQuestionResponse is the authoring view of a question version.
type HomeworkQuestionResponse struct {
	ID            uint                    `json:"id"`
	TaskID        uint                    `json:"task_id"`
	SlotID        uint                    `json:"slot_id"`
	QuestionType  models.QuestionType     `json:"question_type"`
	QuestionText  string                  `json:"question_text"`
	Options       []models.HomeworkOption `json:"options,omitempty"`
	CorrectAnswer string                  `json:"correct_answer,omitempty"`
	Rubric        string                  `json:"rubric,omitempty"`
	Points        float64                 `json:"points"`
	SortOrder     int                     `json:"sort_order"`
	Version       int                     `json:"version"`
	IsActive      bool                    `json:"is_active"`
	ReplacedByID  *uint                   `json:"replaced_by_id,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// NewHomeworkQuestionResponse maps a question version for teachers.
func NewHomeworkQuestionResponse(question models.HomeworkTaskQuestion) HomeworkQuestionResponse {
	return HomeworkQuestionResponse{
		ID:            question.ID,
		TaskID:        question.TaskID,
		SlotID:        question.SlotID,
		QuestionType:  question.QuestionType,
		QuestionText:  question.QuestionText,
		Options:       []models.HomeworkOption(question.Options),
		CorrectAnswer: question.CorrectAnswer,
		Rubric:        question.Rubric,
		Points:        question.Points,
		SortOrder:     question.SortOrder,
		Version:       question.Version,
		IsActive:      question.IsActive,
		ReplacedByID:  question.ReplacedByID,
		CreatedAt:     question.CreatedAt,
	}
}

// HomeworkQuestionView is the student view of an active question version.
type HomeworkQuestionView struct {
	ID           uint                `json:"id"`
	SlotID       uint                `json:"slot_id"`
	Version      int                 `json:"version"`
	QuestionType models.QuestionType `json:"question_type"`
	QuestionText string              `json:"question_text"`
	Options      []AttemptOptionView `json:"options,omitempty"`
	Points       float64             `json:"points"`
	SortOrder    int                 `json:"sort_order"`
}

// NewHomeworkQuestionViews strips correct answers and rubrics.
func NewHomeworkQuestionViews(questions []models.HomeworkTaskQuestion) []HomeworkQuestionView {
	views := make([]HomeworkQuestionView, 0, len(questions))
	for _, question := range questions {
		options := make([]AttemptOptionView, 0, len(question.Options))
		for _, option := range question.Options {
			options = append(options, AttemptOptionView{ID: option.ID, Text: option.Text})
		}
		views = append(views, HomeworkQuestionView{
			ID:           question.ID,
			SlotID:       question.SlotID,
			Version:      question.Version,
			QuestionType: question.QuestionType,
			QuestionText: question.QuestionText,
			Options:      options,
			Points:       question.Points,
			SortOrder:    question.SortOrder,
		})
	}
	return views
}

// HomeworkTaskResponse describes a task and, for teachers, its active questions.
type HomeworkTaskResponse struct {
	ID           uint                       `json:"id"`
	HomeworkID   uint                       `json:"homework_id"`
	ParagraphID  *uint                      `json:"paragraph_id,omitempty"`
	Title        string                     `json:"title"`
	Instructions string                     `json:"instructions"`
	SortOrder    int                        `json:"sort_order"`
	MaxAttempts  int                        `json:"max_attempts"`
	Questions    []HomeworkQuestionResponse `json:"questions,omitempty"`
}

// NewHomeworkTaskResponse maps a task.
func NewHomeworkTaskResponse(task models.HomeworkTask) HomeworkTaskResponse {
	response := HomeworkTaskResponse{
		ID:           task.ID,
		HomeworkID:   task.HomeworkID,
		ParagraphID:  task.ParagraphID,
		Title:        task.Title,
		Instructions: task.Instructions,
		SortOrder:    task.SortOrder,
		MaxAttempts:  task.MaxAttempts,
	}
	for _, question := range task.Questions {
		response.Questions = append(response.Questions, NewHomeworkQuestionResponse(question))
	}
	return response
}

// HomeworkResponse describes a homework.
type HomeworkResponse struct {
	ID                    uint                   `json:"id"`
	SchoolID              *uint                  `json:"school_id,omitempty"`
	ClassID               uint                   `json:"class_id"`
	TeacherID             uint                   `json:"teacher_id"`
	Title                 string                 `json:"title"`
	Description           string                 `json:"description"`
	Status                models.HomeworkStatus  `json:"status"`
	DueDate               time.Time              `json:"due_date"`
	AICheckEnabled        bool                   `json:"ai_check_enabled"`
	LateSubmissionAllowed bool                   `json:"late_submission_allowed"`
	GracePeriodHours      int                    `json:"grace_period_hours"`
	LatePenaltyPerDay     float64                `json:"late_penalty_per_day"`
	MaxLateDays           int                    `json:"max_late_days"`
	PublishedAt           *time.Time             `json:"published_at,omitempty"`
	Tasks                 []HomeworkTaskResponse `json:"tasks,omitempty"`
	AssignedStudents      int                    `json:"assigned_students"`
}

// NewHomeworkResponse maps a homework with its loaded tasks.
func NewHomeworkResponse(homework models.Homework) HomeworkResponse {
	response := HomeworkResponse{
		ID:                    homework.ID,
		SchoolID:              homework.SchoolID,
		ClassID:               homework.ClassID,
		TeacherID:             homework.TeacherID,
		Title:                 homework.Title,
		Description:           homework.Description,
		Status:                homework.Status,
		DueDate:               homework.DueDate,
		AICheckEnabled:        homework.AICheckEnabled,
		LateSubmissionAllowed: homework.LateSubmissionAllowed,
		GracePeriodHours:      homework.GracePeriodHours,
		LatePenaltyPerDay:     homework.LatePenaltyPerDay,
		MaxLateDays:           homework.MaxLateDays,
		PublishedAt:           homework.PublishedAt,
	}
	for _, task := range homework.Tasks {
		response.Tasks = append(response.Tasks, NewHomeworkTaskResponse(task))
	}
	return response
}
