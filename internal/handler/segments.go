package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/service"
	"github.com/stepdocs/api/pkg/response"
)

type SegmentHandler struct {
	service   *service.ReviewService
	validator *validator.Validate
}

func NewSegmentHandler(svc *service.ReviewService, v *validator.Validate) *SegmentHandler {
	return &SegmentHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/docs/:jobId/segments
func (h *SegmentHandler) List(c *fiber.Ctx) error {
	segments, err := h.service.ListSegments(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, segments)
}

// Finalize handles POST /api/docs/:jobId/finalize-segments
func (h *SegmentHandler) Finalize(c *fiber.Ctx) error {
	var req model.FinalizeSegmentsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if _, err := h.service.ReplaceSegments(c.Context(), c.Params("jobId"), req.Segments); err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, model.SuccessResponse{Success: true})
}

// Append handles POST /api/docs/:jobId/segments
func (h *SegmentHandler) Append(c *fiber.Ctx) error {
	var req model.AddSegmentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	segment, err := h.service.AppendSegment(c.Context(), c.Params("jobId"), req.Segment)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, segment)
}

// SetScreenshot handles PUT /api/docs/:jobId/segments/:segmentId/screenshot
func (h *SegmentHandler) SetScreenshot(c *fiber.Ctx) error {
	var req model.SetScreenshotRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	segment, err := h.service.SetScreenshot(c.Context(), c.Params("jobId"), c.Params("segmentId"), req.ScreenshotPath)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, segment)
}
