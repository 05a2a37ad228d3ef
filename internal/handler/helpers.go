package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-mastery-api/internal/middleware"
	"github.com/noah-isme/gema-mastery-api/internal/scoring"
	"github.com/noah-isme/gema-mastery-api/internal/service"
	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

func localUint(c *fiber.Ctx, key string) uint {
	switch v := c.Locals(key).(type) {
	case uint:
		return v
	case int:
		if v < 0 {
			return 0
		}
		return uint(v)
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return uint(parsed)
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(role))
		}
	}
	return ""
}

// actorFromContext builds the caller identity from the locals set by the JWT middleware.
func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:       localUint(c, "user_id"),
		Role:     userRoleFromContext(c),
		SchoolID: localUint(c, "school_id"),
	}
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid " + name)
	}
	return uint(parsed), nil
}

func parseQueryUint(c *fiber.Ctx, key string) (*uint, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, errors.New("invalid " + key)
	}
	result := uint(parsed)
	return &result, nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// sendDomainError maps the errors shared by every engine use case.
// It returns false when the error is not one of them.
func sendDomainError(c *fiber.Ctx, err error) (bool, error) {
	var (
		validationErrors validator.ValidationErrors
		questionErr      *service.QuestionError
		countErr         *service.AnswerCountError
		exceededErr      *service.AttemptsExceededError
		tooLateErr       *scoring.TooLateError
	)

	switch {
	case errors.As(err, &validationErrors):
		return true, utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(validationErrors))
	case errors.Is(err, service.ErrForbidden):
		return true, utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.As(err, &countErr):
		return true, utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), fiber.Map{"expected": countErr.Expected, "got": countErr.Got})
	case errors.As(err, &exceededErr):
		return true, utils.Fail(c, fiber.StatusConflict, err.Error(), fiber.Map{"used": exceededErr.Used, "max": exceededErr.Max})
	case errors.As(err, &tooLateErr):
		return true, utils.Fail(c, fiber.StatusUnprocessableEntity, err.Error(), fiber.Map{"max_late_days": tooLateErr.MaxLateDays})
	case errors.Is(err, service.ErrDuplicateAnswer), errors.Is(err, service.ErrConcurrentAttempt),
		errors.Is(err, service.ErrSubmissionChanged):
		return true, sendWithQuestion(c, fiber.StatusConflict, err, questionErr)
	case errors.Is(err, scoring.ErrLateSubmissionNotAllowed):
		return true, utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &questionErr):
		return true, sendWithQuestion(c, fiber.StatusUnprocessableEntity, err, questionErr)
	case errors.Is(err, scoring.ErrUnsupportedQuestionType), errors.Is(err, scoring.ErrOpenEndedNeedsPolicy):
		return true, utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	}
	return false, nil
}

func sendWithQuestion(c *fiber.Ctx, status int, err error, questionErr *service.QuestionError) error {
	if questionErr == nil {
		errors.As(err, &questionErr)
	}
	if questionErr != nil {
		return utils.Fail(c, status, err.Error(), fiber.Map{"question_id": questionErr.QuestionID})
	}
	return utils.SendError(c, status, err.Error())
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}

func internalError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
