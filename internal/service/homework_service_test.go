package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
)

type homeworkFixture struct {
	homework dto.HomeworkResponse
	task     dto.HomeworkTaskResponse
	choice   dto.HomeworkQuestionResponse
	essay    dto.HomeworkQuestionResponse
}

func (e *serviceEnv) seedHomework(t *testing.T, teacher Actor, create dto.HomeworkCreateRequest, students ...uint) homeworkFixture {
	t.Helper()
	ctx := context.Background()

	homework, err := e.homework.Create(ctx, teacher, create)
	require.NoError(t, err)

	task, err := e.homework.AddTask(ctx, teacher, homework.ID, dto.HomeworkTaskCreateRequest{Title: "Reading", MaxAttempts: 2})
	require.NoError(t, err)

	choice, err := e.homework.AddQuestion(ctx, teacher, task.ID, dto.HomeworkQuestionRequest{
		QuestionType: "single_choice",
		QuestionText: "Which organelle stores DNA?",
		Options: []dto.HomeworkOptionRequest{
			{Text: "Nucleus", IsCorrect: true},
			{Text: "Vacuole"},
		},
		Points:    2,
		SortOrder: 1,
	})
	require.NoError(t, err)

	essay, err := e.homework.AddQuestion(ctx, teacher, task.ID, dto.HomeworkQuestionRequest{
		QuestionType: "open_ended",
		QuestionText: "Explain osmosis.",
		Rubric:       "mentions membrane and concentration",
		Points:       4,
		SortOrder:    2,
	})
	require.NoError(t, err)

	if len(students) > 0 {
		homework, err = e.homework.Publish(ctx, teacher, homework.ID, dto.HomeworkPublishRequest{StudentIDs: students})
		require.NoError(t, err)
	}

	return homeworkFixture{homework: homework, task: task, choice: choice, essay: essay}
}

func defaultHomework(due time.Time) dto.HomeworkCreateRequest {
	return dto.HomeworkCreateRequest{
		ClassID:        3,
		Title:          "Cell biology",
		Description:    "<p>Read chapter 1</p><script>alert(1)</script>",
		DueDate:        due,
		AICheckEnabled: true,
	}
}

func TestHomeworkAuthoringAndPublishing(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)

	created, err := env.homework.Create(ctx, teacher, defaultHomework(env.clock.Now().Add(48*time.Hour)))
	require.NoError(t, err)
	require.Equal(t, models.HomeworkStatusDraft, created.Status)
	require.NotContains(t, created.Description, "script")
	require.NotNil(t, created.SchoolID)
	require.Equal(t, uint(1), *created.SchoolID)

	_, err = env.homework.Create(ctx, studentActor(40), defaultHomework(env.clock.Now()))
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.homework.Publish(ctx, teacher, created.ID, dto.HomeworkPublishRequest{StudentIDs: []uint{40}})
	require.ErrorIs(t, err, ErrHomeworkEmpty)

	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(48*time.Hour)), 40, 41)
	require.Equal(t, models.HomeworkStatusPublished, fixture.homework.Status)
	require.NotNil(t, fixture.homework.PublishedAt)
	require.Equal(t, 2, fixture.homework.AssignedStudents)
	require.Equal(t, fixture.choice.ID, fixture.choice.SlotID)
	require.Equal(t, 1, fixture.choice.Version)
	require.Equal(t, []uint{1, 2}, []uint{fixture.choice.Options[0].ID, fixture.choice.Options[1].ID})

	extended, err := env.homework.Publish(ctx, teacher, fixture.homework.ID, dto.HomeworkPublishRequest{StudentIDs: []uint{41, 42}})
	require.NoError(t, err)
	require.Equal(t, 3, extended.AssignedStudents)
	require.True(t, extended.PublishedAt.Equal(*fixture.homework.PublishedAt))

	_, err = env.homework.Publish(ctx, teacherActor(5), fixture.homework.ID, dto.HomeworkPublishRequest{StudentIDs: []uint{43}})
	require.ErrorIs(t, err, ErrForbidden)

	view, err := env.homework.Get(ctx, teacher, fixture.homework.ID)
	require.NoError(t, err)
	require.Len(t, view.Tasks, 1)
	require.Len(t, view.Tasks[0].Questions, 2)

	studentView, err := env.homework.Get(ctx, studentActor(42), fixture.homework.ID)
	require.NoError(t, err)
	require.Empty(t, studentView.Tasks[0].Questions)

	_, err = env.homework.Get(ctx, studentActor(77), fixture.homework.ID)
	require.ErrorIs(t, err, ErrNotAssigned)

	closed, err := env.homework.Close(ctx, teacher, fixture.homework.ID)
	require.NoError(t, err)
	require.Equal(t, models.HomeworkStatusClosed, closed.Status)

	_, err = env.homework.AddTask(ctx, teacher, fixture.homework.ID, dto.HomeworkTaskCreateRequest{Title: "Late task", MaxAttempts: 1})
	require.ErrorIs(t, err, ErrHomeworkClosed)
}

func TestBuildHomeworkQuestionValidatesShape(t *testing.T) {
	cases := []struct {
		name    string
		payload dto.HomeworkQuestionRequest
	}{
		{"single option", dto.HomeworkQuestionRequest{QuestionType: "single_choice", Options: []dto.HomeworkOptionRequest{{Text: "a", IsCorrect: true}}}},
		{"no correct option", dto.HomeworkQuestionRequest{QuestionType: "multiple_choice", Options: []dto.HomeworkOptionRequest{{Text: "a"}, {Text: "b"}}}},
		{"two correct single", dto.HomeworkQuestionRequest{QuestionType: "single_choice", Options: []dto.HomeworkOptionRequest{{Text: "a", IsCorrect: true}, {Text: "b", IsCorrect: true}}}},
		{"three way true false", dto.HomeworkQuestionRequest{QuestionType: "true_false", Options: []dto.HomeworkOptionRequest{{Text: "t", IsCorrect: true}, {Text: "f"}, {Text: "?"}}}},
		{"short answer without key", dto.HomeworkQuestionRequest{QuestionType: "short_answer", CorrectAnswer: "  "}},
		{"unknown type", dto.HomeworkQuestionRequest{QuestionType: "matching"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildHomeworkQuestion(tc.payload)
			require.ErrorIs(t, err, ErrInvalidQuestion)
		})
	}

	multi, err := BuildHomeworkQuestion(dto.HomeworkQuestionRequest{
		QuestionType: "multiple_choice",
		QuestionText: " Pick all ",
		Options:      []dto.HomeworkOptionRequest{{Text: "a", IsCorrect: true}, {Text: "b", IsCorrect: true}, {Text: "c"}},
		Points:       3,
	})
	require.NoError(t, err)
	require.Equal(t, "Pick all", multi.QuestionText)
	require.Equal(t, []uint{1, 2}, multi.CorrectOptionIDs())
}

func TestEditingAnsweredQuestionCreatesNewVersion(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	teacher := teacherActor(2)
	student := studentActor(44)
	fixture := env.seedHomework(t, teacher, defaultHomework(env.clock.Now().Add(48*time.Hour)), student.ID)

	inPlace, err := env.homework.EditQuestion(ctx, teacher, fixture.essay.ID, dto.HomeworkQuestionRequest{
		QuestionType: "open_ended",
		QuestionText: "Explain osmosis in plants.",
		Points:       4,
		SortOrder:    2,
	})
	require.NoError(t, err)
	require.Equal(t, fixture.essay.ID, inPlace.ID)
	require.Equal(t, 1, inPlace.Version)
	require.Equal(t, "Explain osmosis in plants.", inPlace.QuestionText)

	started, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)
	_, err = env.submissions.SaveAnswer(ctx, student, started.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.choice.ID, SelectedOptionIDs: []uint{1}})
	require.NoError(t, err)

	replacement, err := env.homework.EditQuestion(ctx, teacher, fixture.choice.ID, dto.HomeworkQuestionRequest{
		QuestionType: "single_choice",
		QuestionText: "Which organelle stores genetic material?",
		Options: []dto.HomeworkOptionRequest{
			{Text: "Vacuole"},
			{Text: "Nucleus", IsCorrect: true},
		},
		Points:    3,
		SortOrder: 9,
	})
	require.NoError(t, err)
	require.NotEqual(t, fixture.choice.ID, replacement.ID)
	require.Equal(t, fixture.choice.SlotID, replacement.SlotID)
	require.Equal(t, 2, replacement.Version)
	require.Equal(t, fixture.choice.SortOrder, replacement.SortOrder)
	require.True(t, replacement.IsActive)

	history, err := env.homework.QuestionHistory(ctx, teacher, replacement.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.False(t, history[0].IsActive)
	require.NotNil(t, history[0].ReplacedByID)
	require.Equal(t, replacement.ID, *history[0].ReplacedByID)

	_, err = env.homework.EditQuestion(ctx, teacher, fixture.choice.ID, dto.HomeworkQuestionRequest{QuestionType: "short_answer", QuestionText: "x", CorrectAnswer: "y", Points: 1})
	require.ErrorIs(t, err, ErrQuestionNotActive)

	_, err = env.submissions.SaveAnswer(ctx, student, started.Submission.ID, dto.TaskAnswerRequest{QuestionID: replacement.ID, SelectedOptionIDs: []uint{2}})
	require.ErrorIs(t, err, ErrDuplicateAnswer)

	_, err = env.submissions.SaveAnswer(ctx, student, started.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.essay.ID, AnswerText: "Water moves across a membrane."})
	require.NoError(t, err)

	completed, err := env.submissions.Complete(ctx, student, started.Submission.ID)
	require.NoError(t, err)
	require.Len(t, completed.Answers, 2)
	require.Equal(t, fixture.choice.ID, completed.Answers[0].QuestionID)
	require.Equal(t, 1, completed.Answers[0].QuestionVersion)
	require.InDelta(t, 2, completed.Answers[0].Score, 1e-9)
	require.InDelta(t, 6, completed.MaxScore, 1e-9)

	fresh, err := env.submissions.Start(ctx, student, fixture.task.ID)
	require.NoError(t, err)
	require.Len(t, fresh.Questions, 2)
	var versions []int
	for _, question := range fresh.Questions {
		versions = append(versions, question.Version)
	}
	require.ElementsMatch(t, []int{1, 2}, versions)

	_, err = env.submissions.SaveAnswer(ctx, student, fresh.Submission.ID, dto.TaskAnswerRequest{QuestionID: fixture.choice.ID, SelectedOptionIDs: []uint{1}})
	require.ErrorIs(t, err, ErrQuestionNotActive)
	var questionErr *QuestionError
	require.True(t, errors.As(err, &questionErr))
	require.Equal(t, fixture.choice.ID, questionErr.QuestionID)
}
