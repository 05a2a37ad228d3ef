package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/config"
	"github.com/noah-isme/gema-mastery-api/internal/database"
	"github.com/noah-isme/gema-mastery-api/internal/handler"
	"github.com/noah-isme/gema-mastery-api/internal/middleware"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/internal/router"
	"github.com/noah-isme/gema-mastery-api/internal/service"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Details map[string]any  `json:"details"`
}

type caller struct {
	id     uint
	role   string
	school uint
}

var (
	student = caller{id: 10, role: "student", school: 1}
	teacher = caller{id: 2, role: "teacher", school: 1}
	admin   = caller{id: 1, role: "admin", school: 1}
)

// headerIdentity stands in for the JWT middleware and reads the caller from test headers.
func headerIdentity(c *fiber.Ctx) error {
	if id, err := strconv.ParseUint(c.Get("X-Test-User"), 10, 64); err == nil {
		c.Locals("user_id", uint(id))
	}
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals("user_role", role)
	}
	if school, err := strconv.ParseUint(c.Get("X-Test-School"), 10, 64); err == nil {
		c.Locals("school_id", uint(school))
	}
	return c.Next()
}

func setupAPI(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	cache := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	tx := repository.NewTransactor(db)
	catalogRepo := repository.NewCatalogRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	masteryRepo := repository.NewMasteryRepository(db)
	selfRepo := repository.NewSelfAssessmentRepository(db)
	homeworkRepo := repository.NewHomeworkRepository(db)
	submissionRepo := repository.NewTaskSubmissionRepository(db)
	events := service.NewEventPublisher(cache, nil, "test", logger)

	masterySvc := service.NewMasteryService(tx, catalogRepo, attemptRepo, masteryRepo, selfRepo, validate, cache, events, service.MasteryOptions{SummativeWeight: 1, CacheTTL: time.Minute}, logger)
	attemptSvc := service.NewAttemptService(tx, catalogRepo, attemptRepo, masterySvc, events, validate, logger)
	selfSvc := service.NewSelfAssessmentService(tx, catalogRepo, selfRepo, masterySvc, validate, logger)
	homeworkSvc := service.NewHomeworkService(tx, homeworkRepo, submissionRepo, validate, logger)
	submissionSvc := service.NewTaskSubmissionService(tx, homeworkRepo, submissionRepo, nil, events, validate, service.TaskSubmissionOptions{ReviewThreshold: 0.7, AITimeout: time.Second}, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test", AttemptRateLimit: 1000, AttemptRateWindow: time.Minute}, router.Dependencies{
		AttemptHandler:        handler.NewAttemptHandler(attemptSvc, validate, logger),
		MasteryHandler:        handler.NewMasteryHandler(masterySvc, selfSvc, validate, logger),
		HomeworkHandler:       handler.NewHomeworkHandler(homeworkSvc, validate, logger),
		TaskSubmissionHandler: handler.NewTaskSubmissionHandler(submissionSvc, validate, logger),
		JWTMiddleware:         headerIdentity,
		DB:                    db,
		Cache:                 cache,
	})

	return app, db
}

func call(t *testing.T, app *fiber.App, who *caller, method, path string, body any) (int, apiEnvelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(who.id), 10))
		req.Header.Set("X-Test-Role", who.role)
		req.Header.Set("X-Test-School", strconv.FormatUint(uint64(who.school), 10))
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope apiEnvelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp.StatusCode, envelope
}

func seedTest(t *testing.T, db *gorm.DB) (models.Paragraph, models.Test) {
	t.Helper()

	chapter := models.Chapter{TextbookID: 1, Title: "Cells", Number: 1}
	require.NoError(t, db.Create(&chapter).Error)
	paragraph := models.Paragraph{ChapterID: chapter.ID, Title: "Membranes", Number: 1}
	require.NoError(t, db.Create(&paragraph).Error)

	test := models.Test{
		ChapterID:    chapter.ID,
		ParagraphID:  &paragraph.ID,
		Title:        "Membranes quiz",
		Purpose:      models.TestPurposeFormative,
		PassingScore: 0.6,
		IsActive:     true,
		Questions: []models.Question{
			{QuestionType: models.QuestionTypeSingleChoice, Text: "Barrier of the cell?", Points: 1, SortOrder: 1, Options: []models.QuestionOption{
				{Text: "Membrane", IsCorrect: true, SortOrder: 1},
				{Text: "Nucleus", SortOrder: 2},
			}},
			{QuestionType: models.QuestionTypeShortAnswer, Text: "Water diffusion is called?", Points: 1, SortOrder: 2, CorrectAnswer: "osmosis"},
		},
	}
	require.NoError(t, db.Create(&test).Error)
	return paragraph, test
}

func decodeData(t *testing.T, envelope apiEnvelope, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}
