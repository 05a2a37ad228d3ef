package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/dto"
	"github.com/noah-isme/gema-mastery-api/internal/service"
	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

// TaskSubmissionHandler serves homework task submissions and teacher review.
type TaskSubmissionHandler struct {
	service   service.TaskSubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewTaskSubmissionHandler builds a task submission handler instance.
func NewTaskSubmissionHandler(service service.TaskSubmissionService, validator *validator.Validate, logger zerolog.Logger) *TaskSubmissionHandler {
	return &TaskSubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "task_submission_handler").Logger(),
	}
}

// Register attaches the student-facing routes to the provided router group.
func (h *TaskSubmissionHandler) Register(router fiber.Router) {
	router.Post("/tasks/:id/submissions", h.start)
	router.Get("/submissions/:id", h.get)
	router.Post("/submissions/:id/answers", h.saveAnswer)
	router.Post("/submissions/:id/complete", h.complete)
}

// RegisterReview attaches the teacher review routes.
func (h *TaskSubmissionHandler) RegisterReview(router fiber.Router) {
	router.Get("/homework/:id", h.reviewQueue)
	router.Post("/answers/:id", h.review)
}

func (h *TaskSubmissionHandler) start(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	started, err := h.service.Start(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission started", started)
}

func (h *TaskSubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *TaskSubmissionHandler) saveAnswer(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.TaskAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	answer, err := h.service.SaveAnswer(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "answer saved", answer)
}

func (h *TaskSubmissionHandler) complete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Complete(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", submission.ID).
		Str("status", string(submission.Status)).
		Msg("task submission completed")

	return utils.SendSuccess(c, "submission completed", submission)
}

func (h *TaskSubmissionHandler) reviewQueue(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	queue, err := h.service.ReviewQueue(c.UserContext(), actorFromContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, queue, "review queue retrieved", fiber.Map{"pending": len(queue)})
}

func (h *TaskSubmissionHandler) review(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AnswerReviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	reviewed, err := h.service.Review(c.UserContext(), actorFromContext(c), id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "answer reviewed", reviewed)
}

func (h *TaskSubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	return sendHomeworkError(c, h.logger, err)
}
