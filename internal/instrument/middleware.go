package instrument

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dyntables/internal/apperr"
	"dyntables/internal/metadata"
)

// Middleware sets up tracing for each request. It generates (or propagates) a
// trace ID, creates a root HTTP span, and injects the instrumenter into the
// request context for downstream handlers.
func Middleware(inst Instrumenter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := WithTraceID(c.UserContext(), traceID)
		ctx = WithInstrumenter(ctx, inst)
		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// auth runs downstream and leaves the caller in the user context
		if user := metadata.UserFrom(c.UserContext()); user != nil {
			span.SetMetadata("user_id", user.ID)
		}

		// errors are rendered after this middleware returns
		statusCode := c.Response().StatusCode()
		if err != nil {
			statusCode = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				statusCode = fe.Code
			}
			if ae, ok := apperr.As(err); ok {
				statusCode = ae.Status
			}
		}
		span.SetMetadata("status_code", statusCode)
		if statusCode >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
