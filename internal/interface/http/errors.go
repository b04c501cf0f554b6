package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error     APIError  `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorResponse{
		Error:     APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

// classify maps an application error onto a status and a public code.
// Transient failures never leak their cause.
func classify(err error) (status int, code string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "request_error"
	case errors.Is(err, shared.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrPrerequisiteMissing), errors.Is(err, shared.ErrPrerequisiteCycle):
		return fiber.StatusBadRequest, "invalid_prerequisite"
	case shared.IsValidation(err):
		return fiber.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		return fiber.StatusNotFound, "not_found"
	case shared.IsConflict(err), errors.Is(err, shared.ErrInvalidState):
		return fiber.StatusConflict, "conflict"
	case shared.IsRetryable(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fiber.StatusServiceUnavailable, "temporarily_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

// publicMessage prefers the domain message over the full wrapped chain.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// errorHandler is fiber's central error hook; handlers simply return errors.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status, code := classify(err)

	switch {
	case status == fiber.StatusServiceUnavailable:
		retry := s.config.RetryAfter
		if retry <= 0 {
			retry = 5 * time.Second
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retry.Seconds())))
		s.logger.Warn("request failed transiently", logger.String("path", c.Path()), logger.Err(err))
		return writeError(c, status, code, "Temporarily unavailable, please retry later")
	case status >= fiber.StatusInternalServerError:
		s.logger.Error("request failed", logger.String("path", c.Path()), logger.Err(err))
		return writeError(c, status, code, "An unexpected error occurred")
	default:
		return writeError(c, status, code, publicMessage(err))
	}
}
