package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/database"
	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

const eventChannel = "gema"

type stubGrader struct {
	mu      sync.Mutex
	result  ai.GradingResult
	err     error
	calls   int
	onGrade func()
}

func (g *stubGrader) Grade(ctx context.Context, input ai.GradingInput) (ai.GradingResult, error) {
	g.mu.Lock()
	g.calls++
	hook, result, err := g.onGrade, g.result, g.err
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, err
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

type serviceEnv struct {
	db          *gorm.DB
	mini        *miniredis.Miniredis
	redis       *redis.Client
	clock       *testClock
	grader      *stubGrader
	mastery     MasteryService
	attempts    AttemptService
	selfAssess  SelfAssessmentService
	homework    HomeworkService
	submissions TaskSubmissionService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	clock := &testClock{current: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	grader := &stubGrader{result: ai.GradingResult{Score: 0.8, Confidence: 0.9, Feedback: "good"}}

	tx := repository.NewTransactor(db)
	catalogRepo := repository.NewCatalogRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	masteryRepo := repository.NewMasteryRepository(db)
	selfRepo := repository.NewSelfAssessmentRepository(db)
	homeworkRepo := repository.NewHomeworkRepository(db)
	submissionRepo := repository.NewTaskSubmissionRepository(db)
	events := NewEventPublisher(redisClient, nil, eventChannel, logger)

	masterySvc := NewMasteryService(tx, catalogRepo, attemptRepo, masteryRepo, selfRepo, validate, redisClient, events, MasteryOptions{SummativeWeight: 1, CacheTTL: time.Minute}, logger)
	masterySvc.(*masteryService).now = clock.Now

	attemptSvc := NewAttemptService(tx, catalogRepo, attemptRepo, masterySvc, events, validate, logger)
	attemptSvc.(*attemptService).now = clock.Now

	selfSvc := NewSelfAssessmentService(tx, catalogRepo, selfRepo, masterySvc, validate, logger)
	selfSvc.(*selfAssessmentService).now = clock.Now

	homeworkSvc := NewHomeworkService(tx, homeworkRepo, submissionRepo, validate, logger)
	homeworkSvc.(*homeworkService).now = clock.Now

	submissionSvc := NewTaskSubmissionService(tx, homeworkRepo, submissionRepo, grader, events, validate, TaskSubmissionOptions{ReviewThreshold: 0.7, AITimeout: time.Second}, logger)
	submissionSvc.(*taskSubmissionService).now = clock.Now

	return &serviceEnv{
		db:          db,
		mini:        mini,
		redis:       redisClient,
		clock:       clock,
		grader:      grader,
		mastery:     masterySvc,
		attempts:    attemptSvc,
		selfAssess:  selfSvc,
		homework:    homeworkSvc,
		submissions: submissionSvc,
	}
}

type catalogFixture struct {
	chapter    models.Chapter
	paragraphs []models.Paragraph
}

func (e *serviceEnv) seedCatalog(t *testing.T, paragraphs int) catalogFixture {
	t.Helper()

	chapter := models.Chapter{TextbookID: 1, Title: "Cells", Number: 1}
	require.NoError(t, e.db.Create(&chapter).Error)

	fixture := catalogFixture{chapter: chapter}
	for i := 1; i <= paragraphs; i++ {
		paragraph := models.Paragraph{ChapterID: chapter.ID, Title: fmt.Sprintf("Paragraph %d", i), Number: i}
		require.NoError(t, e.db.Create(&paragraph).Error)
		fixture.paragraphs = append(fixture.paragraphs, paragraph)
	}
	return fixture
}

// seedQuiz creates a two-question test: a single choice question and a short answer question.
func (e *serviceEnv) seedQuiz(t *testing.T, chapterID uint, paragraphID *uint, purpose models.TestPurpose) models.Test {
	t.Helper()

	test := models.Test{
		ChapterID:    chapterID,
		ParagraphID:  paragraphID,
		Title:        fmt.Sprintf("%s quiz", purpose),
		Purpose:      purpose,
		PassingScore: 0.6,
		IsActive:     true,
		Questions: []models.Question{
			{QuestionType: models.QuestionTypeSingleChoice, Text: "Which organelle makes energy?", Points: 1, SortOrder: 1, Explanation: "Mitochondria", Options: []models.QuestionOption{
				{Text: "Mitochondria", IsCorrect: true, SortOrder: 1},
				{Text: "Ribosome", SortOrder: 2},
			}},
			{QuestionType: models.QuestionTypeShortAnswer, Text: "Smallest unit of life?", Points: 1, SortOrder: 2, CorrectAnswer: "cell"},
		},
	}
	require.NoError(t, e.db.Create(&test).Error)
	return test
}

// quizAnswers answers the choice question correctly when choiceRight is set and the short answer when textRight is set.
func quizAnswers(test models.Test, choiceRight, textRight bool) []dto.AttemptAnswerRequest {
	choice := test.Questions[0]
	selected := choice.Options[1].ID
	if choiceRight {
		selected = choice.Options[0].ID
	}

	text := "atom"
	if textRight {
		text = "  Cell "
	}

	return []dto.AttemptAnswerRequest{
		{QuestionID: choice.ID, SelectedOptionIDs: []uint{selected}},
		{QuestionID: test.Questions[1].ID, AnswerText: text},
	}
}

// completeQuiz runs a full attempt in bulk mode.
func (e *serviceEnv) completeQuiz(t *testing.T, student Actor, test models.Test, choiceRight, textRight bool) dto.AttemptResponse {
	t.Helper()
	ctx := context.Background()

	started, err := e.attempts.Start(ctx, student, dto.AttemptStartRequest{TestID: test.ID})
	require.NoError(t, err)

	e.clock.Advance(5 * time.Minute)
	result, err := e.attempts.Submit(ctx, student, started.Attempt.ID, dto.AttemptSubmitRequest{Answers: quizAnswers(test, choiceRight, textRight)})
	require.NoError(t, err)
	return result
}

func studentActor(id uint) Actor {
	return Actor{ID: id, Role: RoleStudent, SchoolID: 1}
}

func teacherActor(id uint) Actor {
	return Actor{ID: id, Role: RoleTeacher, SchoolID: 1}
}

func uintPtr(v uint) *uint {
	return &v
}

func float64Ptr(v float64) *float64 {
	return &v
}
