// Package response writes the JSON envelopes of the REST API.
package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeUploadRejected   = "UPLOAD_REJECTED"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeScreenshotFailed = "SCREENSHOT_FAILED"
	CodeServiceError     = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func UploadRejected(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, CodeUploadRejected, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

// Conflict reports an operation the job's current status does not allow
func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeInvalidState, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ScreenshotFailed(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeScreenshotFailed, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}
