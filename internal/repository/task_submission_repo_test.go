package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

func seedSubmission(t *testing.T, db *gorm.DB) (*models.StudentTaskSubmission, *models.HomeworkTaskQuestion) {
	t.Helper()
	repo := NewHomeworkRepository(db)
	ctx := context.Background()

	homework := &models.Homework{ClassID: 1, TeacherID: 2, Title: "Cells", Status: models.HomeworkStatusPublished, DueDate: time.Now().Add(time.Hour)}
	require.NoError(t, repo.CreateHomework(ctx, homework))
	task := &models.HomeworkTask{HomeworkID: homework.ID, Title: "Task", MaxAttempts: 2}
	require.NoError(t, repo.CreateTask(ctx, task))
	question := &models.HomeworkTaskQuestion{TaskID: task.ID, QuestionType: models.QuestionTypeShortAnswer, QuestionText: "Powerhouse?", CorrectAnswer: "mitochondria", Points: 2, Version: 1, IsActive: true}
	require.NoError(t, repo.CreateQuestion(ctx, question))

	submission := &models.StudentTaskSubmission{HomeworkID: homework.ID, TaskID: task.ID, StudentID: 10, AttemptNumber: 1, Status: models.SubmissionStatusInProgress, StartedAt: time.Now()}
	require.NoError(t, NewTaskSubmissionRepository(db).Create(ctx, submission))
	return submission, question
}

func TestTaskSubmissionRepositoryGetForUpdateLoadsAnswers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskSubmissionRepository(db)
	submission, question := seedSubmission(t, db)
	ctx := context.Background()

	require.NoError(t, repo.CreateAnswer(ctx, &models.StudentTaskAnswer{SubmissionID: submission.ID, QuestionID: question.ID, AnswerText: "mitochondria", MaxScore: 2}))

	err := NewTransactor(db).WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := repo.GetForUpdate(ctx, submission.ID)
		if err != nil {
			return err
		}
		require.Len(t, locked.Answers, 1)
		require.Equal(t, "Powerhouse?", locked.Answers[0].Question.QuestionText)
		require.Equal(t, models.HomeworkStatusPublished, locked.Task.Homework.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestTaskSubmissionRepositoryTransitionCompletesOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskSubmissionRepository(db)
	submission, _ := seedSubmission(t, db)
	ctx := context.Background()

	submittedAt := time.Now()
	graded := *submission
	graded.Status = models.SubmissionStatusGraded
	graded.SubmittedAt = &submittedAt
	graded.Score = 2
	graded.MaxScore = 2
	moved, err := repo.Transition(ctx, &graded, models.SubmissionStatusInProgress)
	require.NoError(t, err)
	require.True(t, moved)

	late := *submission
	late.Status = models.SubmissionStatusNeedsReview
	late.Score = 0
	moved, err = repo.Transition(ctx, &late, models.SubmissionStatusInProgress)
	require.NoError(t, err)
	require.False(t, moved)

	stored, err := repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, stored.Status)
	require.Equal(t, 2.0, stored.Score)
	require.NotNil(t, stored.SubmittedAt)
}
