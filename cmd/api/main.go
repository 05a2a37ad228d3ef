package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/config"
	"github.com/noah-isme/gema-mastery-api/internal/database"
	"github.com/noah-isme/gema-mastery-api/internal/handler"
	"github.com/noah-isme/gema-mastery-api/internal/middleware"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/internal/router"
	"github.com/noah-isme/gema-mastery-api/internal/service"
	"github.com/noah-isme/gema-mastery-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "production" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL, 5*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	// A nil interface disables AI grading; every open-ended answer goes to review.
	var grader ai.Grader
	if cfg.AIGradingEnabled() {
		openAIGrader, err := ai.NewOpenAIGrader(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("failed to create ai grader: %v", err)
		}
		grader = openAIGrader
	} else {
		logger.Warn().Msg("ai grading disabled; open-ended answers will be queued for review")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	tx := repository.NewTransactor(db)
	catalogRepo := repository.NewCatalogRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	masteryRepo := repository.NewMasteryRepository(db)
	selfAssessmentRepo := repository.NewSelfAssessmentRepository(db)
	homeworkRepo := repository.NewHomeworkRepository(db)
	submissionRepo := repository.NewTaskSubmissionRepository(db)

	events := service.NewEventPublisher(redisClient, natsConn, cfg.EventChannel, logger)

	masteryService := service.NewMasteryService(tx, catalogRepo, attemptRepo, masteryRepo, selfAssessmentRepo, validate, redisClient, events, service.MasteryOptions{
		SummativeWeight: cfg.SummativeWeight,
		CacheTTL:        cfg.MasteryCacheTTL,
	}, logger)
	attemptService := service.NewAttemptService(tx, catalogRepo, attemptRepo, masteryService, events, validate, logger)
	selfAssessmentService := service.NewSelfAssessmentService(tx, catalogRepo, selfAssessmentRepo, masteryService, validate, logger)
	homeworkService := service.NewHomeworkService(tx, homeworkRepo, submissionRepo, validate, logger)
	submissionService := service.NewTaskSubmissionService(tx, homeworkRepo, submissionRepo, grader, events, validate, service.TaskSubmissionOptions{
		ReviewThreshold: cfg.AIReviewThreshold,
		AITimeout:       cfg.AIGradingTimeout,
		Language:        cfg.GradingLanguage,
	}, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler:        handler.NewAttemptHandler(attemptService, validate, logger),
		MasteryHandler:        handler.NewMasteryHandler(masteryService, selfAssessmentService, validate, logger),
		HomeworkHandler:       handler.NewHomeworkHandler(homeworkService, validate, logger),
		TaskSubmissionHandler: handler.NewTaskSubmissionHandler(submissionService, validate, logger),
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret),
		DB:                    db,
		Cache:                 redisClient,
	})

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go service.RunAttemptSweeper(sweeperCtx, attemptService, cfg.AttemptSweepInterval, cfg.AttemptMaxAge, logger)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
