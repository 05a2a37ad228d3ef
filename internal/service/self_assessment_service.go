package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/models"
	"github.com/noah-isme/gema-mastery-api/internal/repository"
)

// Self-assessment impacts, in mastery points.
const (
	UnderstoodImpact = 5.0
	DifficultImpact  = -5.0
)

// SelfAssessmentService records a student's own confidence per paragraph.
type SelfAssessmentService interface {
	Record(ctx context.Context, actor Actor, payload dto.SelfAssessmentRequest) (dto.SelfAssessmentResponse, error)
	History(ctx context.Context, actor Actor, paragraphID uint) ([]dto.SelfAssessmentResponse, error)
}

type selfAssessmentService struct {
	tx        repository.Transactor
	catalog   repository.CatalogRepository
	records   repository.SelfAssessmentRepository
	mastery   MasteryService
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSelfAssessmentService wires the self-assessment recorder to the mastery aggregator.
func NewSelfAssessmentService(
	tx repository.Transactor,
	catalog repository.CatalogRepository,
	records repository.SelfAssessmentRepository,
	mastery MasteryService,
	validate *validator.Validate,
	logger zerolog.Logger,
) SelfAssessmentService {
	return &selfAssessmentService{
		tx:        tx,
		catalog:   catalog,
		records:   records,
		mastery:   mastery,
		validator: validate,
		logger:    logger.With().Str("component", "self_assessment_service").Logger(),
		now:       time.Now,
	}
}

// SelfAssessmentOutcome maps a rating to its mastery impact and the next step to recommend.
func SelfAssessmentOutcome(rating models.SelfAssessmentRating) (float64, models.NextRecommendation) {
	switch rating {
	case models.SelfAssessmentUnderstood:
		return UnderstoodImpact, models.RecommendNextParagraph
	case models.SelfAssessmentDifficult:
		return DifficultImpact, models.RecommendReview
	default:
		return 0, models.RecommendChatTutor
	}
}

func (s *selfAssessmentService) Record(ctx context.Context, actor Actor, payload dto.SelfAssessmentRequest) (dto.SelfAssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SelfAssessmentResponse{}, err
	}

	paragraph, err := s.visibleParagraph(ctx, actor, payload.ParagraphID)
	if err != nil {
		return dto.SelfAssessmentResponse{}, err
	}

	rating := models.SelfAssessmentRating(payload.Rating)
	impact, next := SelfAssessmentOutcome(rating)

	record := models.SelfAssessment{
		StudentID:          actor.ID,
		ParagraphID:        paragraph.ID,
		SchoolID:           actor.SchoolID,
		Rating:             rating,
		MasteryImpact:      impact,
		NextRecommendation: next,
		CreatedAt:          s.now(),
	}

	var change MasteryChange
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, &record); err != nil {
			return err
		}
		var err error
		change, err = s.mastery.RefreshParagraph(ctx, actor.ID, paragraph, false)
		return err
	})
	if err != nil {
		return dto.SelfAssessmentResponse{}, err
	}
	s.mastery.Flush(ctx, change)

	s.logger.Debug().Uint("paragraph_id", paragraph.ID).Str("rating", payload.Rating).Msg("self-assessment recorded")

	response := dto.NewSelfAssessmentResponse(record)
	mastery := dto.NewParagraphMasteryResponse(change.Paragraphs[0])
	response.Mastery = &mastery
	return response, nil
}

func (s *selfAssessmentService) History(ctx context.Context, actor Actor, paragraphID uint) ([]dto.SelfAssessmentResponse, error) {
	if _, err := s.visibleParagraph(ctx, actor, paragraphID); err != nil {
		return nil, err
	}

	records, err := s.records.ListByParagraph(ctx, actor.ID, paragraphID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.SelfAssessmentResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, dto.NewSelfAssessmentResponse(record))
	}
	return responses, nil
}

func (s *selfAssessmentService) visibleParagraph(ctx context.Context, actor Actor, paragraphID uint) (models.Paragraph, error) {
	paragraph, err := s.catalog.GetParagraph(ctx, paragraphID)
	if err != nil {
		return models.Paragraph{}, notFoundAs(err, ErrParagraphNotFound)
	}
	if !actor.CanSee(paragraph.SchoolID) {
		return models.Paragraph{}, ErrForbidden
	}
	return paragraph, nil
}
