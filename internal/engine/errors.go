package engine

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"dyntables/internal/apperr"
)

// ErrorHandler renders errors returned by handlers as {"error": {...}}.
// Anything that is not an AppError is logged and reported as an internal error.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if appErr, ok := apperr.As(err); ok {
			if appErr.Code == apperr.CodeStorage {
				log.ErrorContext(c.UserContext(), "storage failure", "path", c.Path(), "error", err)
			}
			return c.Status(appErr.Status).JSON(apperr.ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(apperr.ErrorResponse{
				Error: apperr.New("HTTP_ERROR", fiberErr.Code, fiberErr.Message),
			})
		}

		log.ErrorContext(c.UserContext(), "unhandled error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(apperr.ErrorResponse{
			Error: apperr.New("INTERNAL_ERROR", fiber.StatusInternalServerError, "Internal server error"),
		})
	}
}
