// Package apierror renders handler failures as JSON bodies.
package apierror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Error is an HTTP failure with an optional offending field.
type Error struct {
	Status  int
	Message string
	Field   string
}

func (e *Error) Error() string { return e.Message }

// New builds an Error.
func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WithField builds an Error naming the offending field.
func WithField(status int, message, field string) *Error {
	return &Error{Status: status, Message: message, Field: field}
}

type body struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Handler is a fiber.ErrorHandler that writes {"message", "field"} bodies.
// Unknown errors become a generic 500 and are logged, never echoed.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr *Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &apiErr):
			return c.Status(apiErr.Status).JSON(body{Message: apiErr.Message, Field: apiErr.Field})
		case errors.As(err, &fiberErr):
			return c.Status(fiberErr.Code).JSON(body{Message: fiberErr.Message})
		default:
			if logger != nil {
				logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
			}
			return c.Status(http.StatusInternalServerError).JSON(body{Message: "server error"})
		}
	}
}
