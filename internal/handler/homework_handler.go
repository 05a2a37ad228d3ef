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

// HomeworkHandler manages homework authoring and publishing.
type HomeworkHandler struct {
	service   service.HomeworkService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewHomeworkHandler builds a homework handler instance.
func NewHomeworkHandler(service service.HomeworkService, validator *validator.Validate, logger zerolog.Logger) *HomeworkHandler {
	return &HomeworkHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "homework_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *HomeworkHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Post("/:id/tasks", h.addTask)
	router.Post("/:id/publish", h.publish)
	router.Post("/:id/close", h.close)
	router.Post("/tasks/:id/questions", h.addQuestion)
	router.Put("/questions/:id", h.editQuestion)
	router.Get("/questions/:id/history", h.questionHistory)
}

func (h *HomeworkHandler) create(c *fiber.Ctx) error {
	var payload dto.HomeworkCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	homework, err := h.service.Create(c.UserContext(), actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "homework created", homework)
}

func (h *HomeworkHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	homework, err := h.service.Get(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "homework retrieved", homework)
}

func (h *HomeworkHandler) addTask(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.HomeworkTaskCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	task, err := h.service.AddTask(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "task added", task)
}

func (h *HomeworkHandler) publish(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.HomeworkPublishRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	homework, err := h.service.Publish(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "homework published", homework)
}

func (h *HomeworkHandler) close(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	homework, err := h.service.Close(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "homework closed", homework)
}

func (h *HomeworkHandler) addQuestion(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.HomeworkQuestionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	question, err := h.service.AddQuestion(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "question added", question)
}

func (h *HomeworkHandler) editQuestion(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.HomeworkQuestionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	question, err := h.service.EditQuestion(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "question updated", question)
}

func (h *HomeworkHandler) questionHistory(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	versions, err := h.service.QuestionHistory(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, versions, "question history retrieved", fiber.Map{"versions": len(versions)})
}

func (h *HomeworkHandler) handleError(c *fiber.Ctx, err error) error {
	return sendHomeworkError(c, h.logger, err)
}

// sendHomeworkError is shared by the authoring and submission handlers.
func sendHomeworkError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	if handled, sendErr := sendDomainError(c, err); handled {
		return sendErr
	}

	switch {
	case errors.Is(err, service.ErrHomeworkNotFound),
		errors.Is(err, service.ErrHomeworkTaskNotFound),
		errors.Is(err, service.ErrHomeworkQuestionNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrTaskAnswerNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotAssigned):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrHomeworkClosed),
		errors.Is(err, service.ErrHomeworkNotPublished),
		errors.Is(err, service.ErrSubmissionNotInProgress),
		errors.Is(err, service.ErrSubmissionNotCompleted):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrHomeworkEmpty),
		errors.Is(err, service.ErrInvalidQuestion),
		errors.Is(err, service.ErrInvalidOverride):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	default:
		return internalError(c, logger, err)
	}
}
