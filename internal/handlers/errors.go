package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/apperr"
)

// ErrorHandler is the single place errors become responses. Stack traces are
// attached only when production is false.
func ErrorHandler(log *zap.Logger, production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		body := envelope{Success: false}
		status := fiber.StatusInternalServerError

		var fe *fiber.Error
		if e, found := apperr.As(err); found {
			status = e.Status
			body.Code = e.Code
			body.Message = e.Message
			if e.RetryAfter > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retrySeconds(e.RetryAfter)))
			}
		} else if errors.As(err, &fe) {
			status = fe.Code
			body.Message = fe.Message
		} else {
			body.Message = "Internal Server Error"
		}

		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
			if !production {
				body.Stack = apperr.StackTrace(err)
			}
		}

		return c.Status(status).JSON(body)
	}
}

// retrySeconds rounds d up to whole seconds, never below one.
func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// NotFound answers requests that matched no route.
func NotFound(c *fiber.Ctx) error {
	return apperr.NotFound("Route not found: " + c.Method() + " " + c.OriginalURL())
}
