package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/services"
	"go.uber.org/zap"
)

const codeUnauthenticated = "authentication_error"

var errInvalidActor = errors.New("invalid actor id")

type envelope struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message,omitempty"`
	Data       any                    `json:"data,omitempty"`
	Pagination *models.PaginationMeta `json:"pagination,omitempty"`
	Code       string                 `json:"code,omitempty"`
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Message: message, Data: data})
}

func respondPage(c *fiber.Ctx, data any, meta models.PaginationMeta) error {
	return c.JSON(envelope{Success: true, Data: data, Pagination: &meta})
}

func respondError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(envelope{Success: false, Message: message, Code: code})
}

func badRequest(c *fiber.Ctx, message string) error {
	return respondError(c, fiber.StatusBadRequest, services.CodeValidation, message)
}

func unauthenticated(c *fiber.Ctx) error {
	return respondError(c, fiber.StatusUnauthorized, codeUnauthenticated, "Invalid token")
}

func parseActorID(c *fiber.Ctx) (int64, error) {
	raw, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, errInvalidActor
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, errInvalidActor
	}
	return userID, nil
}

func parseIDParam(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mapConsultationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return respondError(c, fiber.StatusBadRequest, services.CodeValidation, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return respondError(c, fiber.StatusForbidden, services.CodeAuthorization, err.Error())
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return respondError(c, fiber.StatusNotFound, services.CodeNotFound, "Consultation not found")
	case errors.Is(err, services.ErrConflict):
		return respondError(c, fiber.StatusConflict, services.CodeConflict, err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		return respondError(c, fiber.StatusPaymentRequired, services.CodeInsufficientFunds, err.Error())
	case errors.Is(err, services.ErrInvalidStateTransition):
		return respondError(c, fiber.StatusUnprocessableEntity, services.CodeInvalidState, err.Error())
	default:
		zap.L().Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return respondError(c, fiber.StatusInternalServerError, services.CodeInternal, "Failed to process request")
	}
}
