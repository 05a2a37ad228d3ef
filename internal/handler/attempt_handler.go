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

// AttemptHandler exposes the test attempt lifecycle.
type AttemptHandler struct {
	service   service.AttemptService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAttemptHandler builds an attempt handler instance.
func NewAttemptHandler(service service.AttemptService, validator *validator.Validate, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Post("", h.start)
	router.Get("/:id", h.get)
	router.Post("/:id/answers", h.answer)
	router.Post("/:id/submit", h.submit)
	router.Post("/:id/abandon", h.abandon)
}

// RegisterMaintenance attaches operator endpoints. The caller guards them.
func (h *AttemptHandler) RegisterMaintenance(router fiber.Router) {
	router.Post("/sweep", h.sweep)
}

func (h *AttemptHandler) start(c *fiber.Ctx) error {
	var payload dto.AttemptStartRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	started, err := h.service.Start(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attempt started", started)
}

func (h *AttemptHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempt, err := h.service.Get(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt retrieved", attempt)
}

func (h *AttemptHandler) answer(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AttemptAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	feedback, err := h.service.Answer(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "answer recorded", feedback)
}

func (h *AttemptHandler) submit(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AttemptSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Submit(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt submitted", result)
}

func (h *AttemptHandler) abandon(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Abandon(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt abandoned", result)
}

func (h *AttemptHandler) sweep(c *fiber.Ctx) error {
	var payload dto.AttemptSweepRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.AbandonExpired(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "stale attempts abandoned", result)
}

func (h *AttemptHandler) handleError(c *fiber.Ctx, err error) error {
	if handled, sendErr := sendDomainError(c, err); handled {
		return sendErr
	}

	switch {
	case errors.Is(err, service.ErrTestNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "test not found")
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrAttemptNotInProgress):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrTestInactive), errors.Is(err, service.ErrTestHasNoQuestions):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	default:
		return internalError(c, h.logger, err)
	}
}
