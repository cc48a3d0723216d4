package handler

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Namespace()] = e.Tag()
		}
		return fields
	}
	return nil
}

// serviceError maps the error taxonomy onto HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrUploadRejected):
		return response.UploadRejected(c, err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrJobNotFound),
		errors.Is(err, model.ErrDocumentNotFound),
		errors.Is(err, model.ErrSegmentNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrInvalidTransition):
		return response.Conflict(c, err.Error())
	case errors.Is(err, model.ErrScreenshotCaptureFailed):
		return response.ScreenshotFailed(c, err.Error())
	default:
		log.Printf("%s %s: %v", c.Method(), c.Path(), err)
		return response.ServiceError(c, err.Error())
	}
}
