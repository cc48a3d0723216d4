package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/service"
	"github.com/stepdocs/api/pkg/response"
)

type DocumentHandler struct {
	documents *service.DocumentService
	pipeline  *service.PipelineService
	validator *validator.Validate
}

func NewDocumentHandler(documents *service.DocumentService, pipeline *service.PipelineService, v *validator.Validate) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		pipeline:  pipeline,
		validator: v,
	}
}

// Get handles GET /api/docs/:jobId
func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	doc, err := h.documents.GetDocument(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, doc)
}

// VideoScreenshot handles POST /api/docs/:jobId/video-screenshot
func (h *DocumentHandler) VideoScreenshot(c *fiber.Ctx) error {
	var req model.VideoScreenshotRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	url, err := h.documents.CaptureScreenshot(c.Context(), c.Params("jobId"), req.VideoID, req.Timestamp)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, model.VideoScreenshotResponse{Success: true, ImageURL: url})
}

// Cancel handles POST /api/docs/:jobId/cancel
func (h *DocumentHandler) Cancel(c *fiber.Ctx) error {
	job, err := h.pipeline.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, model.CancelResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	})
}
