package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/service"
	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

// MasteryHandler serves mastery reads, completion signals and self-assessments.
type MasteryHandler struct {
	mastery   service.MasteryService
	self      service.SelfAssessmentService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMasteryHandler builds a mastery handler instance.
func NewMasteryHandler(mastery service.MasteryService, self service.SelfAssessmentService, validator *validator.Validate, logger zerolog.Logger) *MasteryHandler {
	return &MasteryHandler{
		mastery:   mastery,
		self:      self,
		validator: validator,
		logger:    logger.With().Str("component", "mastery_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *MasteryHandler) Register(router fiber.Router) {
	router.Get("/overview", h.overview)
	router.Get("/paragraphs/:id", h.paragraph)
	router.Get("/paragraphs/:id/self-assessments", h.selfAssessmentHistory)
	router.Get("/chapters/:id", h.chapter)
	router.Post("/completions", h.complete)
	router.Post("/self-assessments", h.selfAssess)
}

// RegisterMaintenance attaches the recompute endpoint. The caller guards it.
func (h *MasteryHandler) RegisterMaintenance(router fiber.Router) {
	router.Post("/recompute", h.recompute)
}

func (h *MasteryHandler) overview(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	studentID := actor.ID

	requested, err := parseQueryUint(c, "student_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if requested != nil && *requested != actor.ID {
		if !actor.IsStaff() {
			return utils.SendError(c, fiber.StatusForbidden, service.ErrForbidden.Error())
		}
		studentID = *requested
	}

	overview, err := h.mastery.Overview(c.UserContext(), studentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "mastery overview retrieved", overview)
}

func (h *MasteryHandler) paragraph(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	mastery, err := h.mastery.GetParagraph(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "paragraph mastery retrieved", mastery)
}

func (h *MasteryHandler) chapter(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	mastery, err := h.mastery.GetChapter(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "chapter mastery retrieved", mastery)
}

func (h *MasteryHandler) complete(c *fiber.Ctx) error {
	var payload dto.CompletionSignalRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	mastery, err := h.mastery.RecordCompletion(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "paragraph completed", mastery)
}

func (h *MasteryHandler) selfAssess(c *fiber.Ctx) error {
	var payload dto.SelfAssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.self.Record(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "self-assessment recorded", record)
}

func (h *MasteryHandler) selfAssessmentHistory(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	history, err := h.self.History(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, history, "self-assessments retrieved", fiber.Map{"count": len(history)})
}

func (h *MasteryHandler) recompute(c *fiber.Ctx) error {
	var payload dto.MasteryRecomputeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	mastery, err := h.mastery.Recompute(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "mastery recomputed", mastery)
}

func (h *MasteryHandler) handleError(c *fiber.Ctx, err error) error {
	if handled, sendErr := sendDomainError(c, err); handled {
		return sendErr
	}

	switch {
	case errors.Is(err, service.ErrParagraphNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "paragraph not found")
	case errors.Is(err, service.ErrChapterNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "chapter not found")
	default:
		return internalError(c, h.logger, err)
	}
}
