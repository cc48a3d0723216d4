package handler

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/service"
	"github.com/stepdocs/api/pkg/response"
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Upload handles POST /api/upload
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return response.ValidationError(c, "video file is required", nil)
	}

	req, details := h.parseForm(c)
	if details != nil {
		return response.ValidationError(c, "Validation failed", details)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	job, err := h.service.Upload(c.Context(), service.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Body:        f,
	}, req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, model.UploadResponse{JobID: job.ID})
}

func (h *UploadHandler) parseForm(c *fiber.Ctx) (model.UploadRequest, map[string]string) {
	req := model.UploadRequest{Title: strings.TrimSpace(c.FormValue("title"))}
	details := map[string]string{}

	if v := strings.TrimSpace(c.FormValue("documentId")); v != "" {
		if err := h.validator.Var(v, "uuid"); err != nil {
			details["documentId"] = "uuid"
		}
		req.DocumentID = &v
	}
	if v := strings.TrimSpace(c.FormValue("categoryId")); v != "" {
		req.CategoryID = &v
	}

	for field, dst := range map[string]**float64{"startTime": &req.StartTime, "endTime": &req.EndTime} {
		raw := strings.TrimSpace(c.FormValue(field))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			details[field] = "number"
			continue
		}
		*dst = &f
	}

	if len(details) > 0 {
		return req, details
	}
	return req, nil
}
