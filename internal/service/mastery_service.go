package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/observability"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
	"github.com/noah-isme/gema-mastery-api/internal/scoring"
)

// DefaultSummativeWeight lets a chapter's latest summative score fully determine its mastery score.
const DefaultSummativeWeight = 1.0

var (
	// ErrParagraphNotFound indicates the paragraph does not exist in the catalog.
	ErrParagraphNotFound = errors.New("paragraph not found")
	// ErrChapterNotFound indicates the chapter does not exist in the catalog.
	ErrChapterNotFound = errors.New("chapter not found")
)

// MasteryOptions tunes the aggregator.
type MasteryOptions struct {
	// SummativeWeight must be in (0, 1]; anything else falls back to DefaultSummativeWeight.
	SummativeWeight float64
	CacheTTL        time.Duration
}

// MasteryChange lists the rows rewritten by one recomputation.
type MasteryChange struct {
	StudentID  uint
	Paragraphs []models.ParagraphMastery
	Chapters   []models.ChapterMastery
}

// Empty reports whether nothing was recomputed.
func (c MasteryChange) Empty() bool {
	return len(c.Paragraphs) == 0 && len(c.Chapters) == 0
}

// MasteryService recomputes paragraph and chapter mastery from history.
// ApplyAttempt and RefreshParagraph join the caller's transaction; Flush must run after commit.
type MasteryService interface {
	ApplyAttempt(ctx context.Context, attempt models.TestAttempt, test models.Test) (MasteryChange, error)
	RefreshParagraph(ctx context.Context, studentID uint, paragraph models.Paragraph, completionSignal bool) (MasteryChange, error)
	Flush(ctx context.Context, change MasteryChange)
	RecordCompletion(ctx context.Context, actor Actor, payload dto.CompletionSignalRequest) (dto.ParagraphMasteryResponse, error)
	Recompute(ctx context.Context, payload dto.MasteryRecomputeRequest) (dto.ParagraphMasteryResponse, error)
	GetParagraph(ctx context.Context, actor Actor, paragraphID uint) (dto.ParagraphMasteryResponse, error)
	GetChapter(ctx context.Context, actor Actor, chapterID uint) (dto.ChapterMasteryResponse, error)
	Overview(ctx context.Context, studentID uint) (dto.MasteryOverviewResponse, error)
}

type masteryService struct {
	tx              repository.Transactor
	catalog         repository.CatalogRepository
	attempts        repository.AttemptRepository
	mastery         repository.MasteryRepository
	selfAssessments repository.SelfAssessmentRepository
	validator       *validator.Validate
	cache           *redis.Client
	cacheTTL        time.Duration
	summativeWeight float64
	events          EventPublisher
	logger          zerolog.Logger
	now             func() time.Time
}

// NewMasteryService builds the mastery aggregator.
func NewMasteryService(
	tx repository.Transactor,
	catalog repository.CatalogRepository,
	attempts repository.AttemptRepository,
	mastery repository.MasteryRepository,
	selfAssessments repository.SelfAssessmentRepository,
	validate *validator.Validate,
	cache *redis.Client,
	events EventPublisher,
	opts MasteryOptions,
	logger zerolog.Logger,
) MasteryService {
	weight := opts.SummativeWeight
	if weight <= 0 || weight > 1 {
		weight = DefaultSummativeWeight
	}

	return &masteryService{
		tx:              tx,
		catalog:         catalog,
		attempts:        attempts,
		mastery:         mastery,
		selfAssessments: selfAssessments,
		validator:       validate,
		cache:           cache,
		cacheTTL:        opts.CacheTTL,
		summativeWeight: weight,
		events:          events,
		logger:          logger.With().Str("component", "mastery_service").Logger(),
		now:             time.Now,
	}
}

func (s *masteryService) ApplyAttempt(ctx context.Context, attempt models.TestAttempt, test models.Test) (MasteryChange, error) {
	change := MasteryChange{StudentID: attempt.StudentID}
	if attempt.Status != models.AttemptStatusCompleted || !test.Purpose.AffectsMastery() {
		return change, nil
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		chapters := []uint{test.ChapterID}

		if test.ParagraphID != nil {
			chapterID := test.ChapterID
			paragraph, err := s.catalog.GetParagraph(ctx, *test.ParagraphID)
			switch {
			case err == nil:
				chapterID = paragraph.ChapterID
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			row, err := s.recomputeParagraph(ctx, attempt.StudentID, *test.ParagraphID, chapterID, false)
			if err != nil {
				return err
			}
			change.Paragraphs = append(change.Paragraphs, row)
			if chapterID != test.ChapterID {
				chapters = append(chapters, chapterID)
			}
		}

		for _, chapterID := range chapters {
			row, err := s.recomputeChapter(ctx, attempt.StudentID, chapterID)
			if err != nil {
				return err
			}
			change.Chapters = append(change.Chapters, row)
		}
		return nil
	})
	if err != nil {
		return MasteryChange{}, err
	}

	return change, nil
}

func (s *masteryService) RefreshParagraph(ctx context.Context, studentID uint, paragraph models.Paragraph, completionSignal bool) (MasteryChange, error) {
	change := MasteryChange{StudentID: studentID}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		row, err := s.recomputeParagraph(ctx, studentID, paragraph.ID, paragraph.ChapterID, completionSignal)
		if err != nil {
			return err
		}
		chapter, err := s.recomputeChapter(ctx, studentID, paragraph.ChapterID)
		if err != nil {
			return err
		}
		change.Paragraphs = append(change.Paragraphs, row)
		change.Chapters = append(change.Chapters, chapter)
		return nil
	})
	if err != nil {
		return MasteryChange{}, err
	}

	return change, nil
}

// Flush invalidates the student's cached overview and announces the new mastery rows.
func (s *masteryService) Flush(ctx context.Context, change MasteryChange) {
	if change.Empty() {
		return
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, overviewCacheKey(change.StudentID)).Err(); err != nil {
			s.logger.Warn().Err(err).Uint("student_id", change.StudentID).Msg("failed to invalidate mastery overview cache")
		}
	}

	for _, chapter := range change.Chapters {
		publishEvent(ctx, s.events, s.logger, EventMasteryUpdated, dto.NewChapterMasteryResponse(chapter, nil))
	}
}

func (s *masteryService) RecordCompletion(ctx context.Context, actor Actor, payload dto.CompletionSignalRequest) (dto.ParagraphMasteryResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}

	paragraph, err := s.visibleParagraph(ctx, actor, payload.ParagraphID)
	if err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}

	change, err := s.RefreshParagraph(ctx, actor.ID, paragraph, true)
	if err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}
	s.Flush(ctx, change)

	return dto.NewParagraphMasteryResponse(change.Paragraphs[0]), nil
}

func (s *masteryService) Recompute(ctx context.Context, payload dto.MasteryRecomputeRequest) (dto.ParagraphMasteryResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}

	paragraph, err := s.catalog.GetParagraph(ctx, payload.ParagraphID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ParagraphMasteryResponse{}, ErrParagraphNotFound
		}
		return dto.ParagraphMasteryResponse{}, err
	}

	change, err := s.RefreshParagraph(ctx, payload.StudentID, paragraph, false)
	if err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}
	s.Flush(ctx, change)

	return dto.NewParagraphMasteryResponse(change.Paragraphs[0]), nil
}

func (s *masteryService) GetParagraph(ctx context.Context, actor Actor, paragraphID uint) (dto.ParagraphMasteryResponse, error) {
	paragraph, err := s.visibleParagraph(ctx, actor, paragraphID)
	if err != nil {
		return dto.ParagraphMasteryResponse{}, err
	}

	row, err := s.mastery.GetParagraph(ctx, actor.ID, paragraph.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ParagraphMasteryResponse{}, err
		}
		row = models.ParagraphMastery{
			StudentID:   actor.ID,
			ParagraphID: paragraph.ID,
			ChapterID:   paragraph.ChapterID,
			Status:      models.ParagraphStatusNotStarted,
		}
	}

	return dto.NewParagraphMasteryResponse(row), nil
}

func (s *masteryService) GetChapter(ctx context.Context, actor Actor, chapterID uint) (dto.ChapterMasteryResponse, error) {
	chapter, err := s.catalog.GetChapter(ctx, chapterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChapterMasteryResponse{}, ErrChapterNotFound
		}
		return dto.ChapterMasteryResponse{}, err
	}
	if !actor.CanSee(chapter.SchoolID) {
		return dto.ChapterMasteryResponse{}, ErrForbidden
	}

	row, err := s.mastery.GetChapter(ctx, actor.ID, chapter.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChapterMasteryResponse{}, err
		}
		total, countErr := s.catalog.CountParagraphs(ctx, chapter.ID)
		if countErr != nil {
			return dto.ChapterMasteryResponse{}, countErr
		}
		row = models.ChapterMastery{
			StudentID:       actor.ID,
			ChapterID:       chapter.ID,
			TotalParagraphs: int(total),
			MasteryLevel:    scoring.MasteryLevelFor(0),
		}
	}

	paragraphs, err := s.mastery.ListParagraphsByChapter(ctx, actor.ID, chapter.ID)
	if err != nil {
		return dto.ChapterMasteryResponse{}, err
	}

	return dto.NewChapterMasteryResponse(row, paragraphs), nil
}

func (s *masteryService) Overview(ctx context.Context, studentID uint) (dto.MasteryOverviewResponse, error) {
	cacheKey := overviewCacheKey(studentID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.MasteryOverviewResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				observability.MasteryCacheLookups().WithLabelValues("hit").Inc()
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read mastery overview cache")
		}
		observability.MasteryCacheLookups().WithLabelValues("miss").Inc()
	}

	chapters, err := s.mastery.ListChapters(ctx, studentID)
	if err != nil {
		return dto.MasteryOverviewResponse{}, err
	}

	response := dto.MasteryOverviewResponse{
		StudentID:   studentID,
		Chapters:    make([]dto.ChapterMasteryResponse, 0, len(chapters)),
		LevelCounts: map[models.MasteryLevel]int{models.MasteryLevelA: 0, models.MasteryLevelB: 0, models.MasteryLevelC: 0},
		GeneratedAt: s.now().UTC(),
	}
	var total float64
	for _, chapter := range chapters {
		response.Chapters = append(response.Chapters, dto.NewChapterMasteryResponse(chapter, nil))
		response.LevelCounts[chapter.MasteryLevel]++
		total += chapter.MasteryScore
	}
	if len(chapters) > 0 {
		response.AverageMastery = total / float64(len(chapters))
	}

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store mastery overview cache")
			}
		}
	}

	return response, nil
}

func (s *masteryService) visibleParagraph(ctx context.Context, actor Actor, paragraphID uint) (models.Paragraph, error) {
	paragraph, err := s.catalog.GetParagraph(ctx, paragraphID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Paragraph{}, ErrParagraphNotFound
		}
		return models.Paragraph{}, err
	}
	if !actor.CanSee(paragraph.SchoolID) {
		return models.Paragraph{}, ErrForbidden
	}
	return paragraph, nil
}

// recomputeParagraph replays the full history so a retry converges to the same row.
func (s *masteryService) recomputeParagraph(ctx context.Context, studentID, paragraphID, chapterID uint, completionSignal bool) (models.ParagraphMastery, error) {
	history, err := s.attempts.ListCompletedForParagraph(ctx, studentID, paragraphID)
	if err != nil {
		return models.ParagraphMastery{}, fmt.Errorf("load paragraph history: %w", err)
	}

	delta, err := s.selfAssessments.SumImpact(ctx, studentID, paragraphID)
	if err != nil {
		return models.ParagraphMastery{}, fmt.Errorf("sum self-assessment impact: %w", err)
	}

	previous, err := s.mastery.GetParagraph(ctx, studentID, paragraphID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ParagraphMastery{}, err
	}

	var sum, best float64
	var timeSpent int
	passed := false
	for _, attempt := range history {
		sum += attempt.Score
		if attempt.Score > best {
			best = attempt.Score
		}
		timeSpent += attempt.TimeSpentSeconds
		passed = passed || attempt.Passed
	}

	average := 0.0
	if len(history) > 0 {
		average = sum / float64(len(history))
	}

	completed := previous.IsCompleted || passed || completionSignal
	completedAt := previous.CompletedAt
	if completed && completedAt == nil {
		now := s.now()
		completedAt = &now
	}

	row := models.ParagraphMastery{
		StudentID:           studentID,
		ParagraphID:         paragraphID,
		ChapterID:           chapterID,
		AverageScore:        average,
		BestScore:           best,
		AttemptsCount:       len(history),
		SelfAssessmentDelta: delta,
		MasteryScore:        scoring.ClampPercent(average*100 + delta),
		IsCompleted:         completed,
		TimeSpentSeconds:    timeSpent,
		CompletedAt:         completedAt,
	}
	row.Status = scoring.ParagraphStatusFor(average, len(history), row.HasActivity())

	if err := s.mastery.UpsertParagraph(ctx, &row); err != nil {
		return models.ParagraphMastery{}, fmt.Errorf("store paragraph mastery: %w", err)
	}
	observability.MasteryRecomputes().WithLabelValues("paragraph").Inc()

	return row, nil
}

func (s *masteryService) recomputeChapter(ctx context.Context, studentID, chapterID uint) (models.ChapterMastery, error) {
	rows, err := s.mastery.ListParagraphsByChapter(ctx, studentID, chapterID)
	if err != nil {
		return models.ChapterMastery{}, fmt.Errorf("load paragraph mastery: %w", err)
	}

	catalogTotal, err := s.catalog.CountParagraphs(ctx, chapterID)
	if err != nil {
		return models.ChapterMastery{}, fmt.Errorf("count chapter paragraphs: %w", err)
	}

	row := models.ChapterMastery{
		StudentID:       studentID,
		ChapterID:       chapterID,
		TotalParagraphs: int(catalogTotal),
	}
	if len(rows) > row.TotalParagraphs {
		row.TotalParagraphs = len(rows)
	}

	var baselineSum float64
	var active int
	for _, paragraph := range rows {
		if paragraph.IsCompleted {
			row.CompletedParagraphs++
		}
		switch paragraph.Status {
		case models.ParagraphStatusMastered:
			row.MasteredParagraphs++
		case models.ParagraphStatusStruggling:
			row.StrugglingParagraphs++
		}
		if paragraph.HasActivity() {
			baselineSum += paragraph.MasteryScore
			active++
		}
	}

	if row.TotalParagraphs > 0 {
		row.ProgressPercentage = float64(row.CompletedParagraphs) / float64(row.TotalParagraphs) * 100
	}

	baseline := 0.0
	if active > 0 {
		baseline = baselineSum / float64(active)
	}
	row.MasteryScore = baseline

	summative, err := s.attempts.LatestSummativeForChapter(ctx, studentID, chapterID)
	switch {
	case err == nil:
		score := summative.Score
		passed := summative.Passed
		row.SummativeScore = &score
		row.SummativePassed = &passed
		row.MasteryScore = s.summativeWeight*score*100 + (1-s.summativeWeight)*baseline
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.ChapterMastery{}, fmt.Errorf("load summative attempt: %w", err)
	}

	row.MasteryScore = scoring.ClampPercent(row.MasteryScore)
	row.MasteryLevel = scoring.MasteryLevelFor(row.MasteryScore)

	if err := s.mastery.UpsertChapter(ctx, &row); err != nil {
		return models.ChapterMastery{}, fmt.Errorf("store chapter mastery: %w", err)
	}
	observability.MasteryRecomputes().WithLabelValues("chapter").Inc()

	return row, nil
}

func overviewCacheKey(studentID uint) string {
	return fmt.Sprintf("mastery:overview:student:%d", studentID)
}
