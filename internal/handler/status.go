package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/service"
	"github.com/stepdocs/api/pkg/response"
)

type StatusHandler struct {
	service *service.StatusService
}

func NewStatusHandler(svc *service.StatusService) *StatusHandler {
	return &StatusHandler{service: svc}
}

// Status handles GET /api/status/:jobId
func (h *StatusHandler) Status(c *fiber.Ctx) error {
	report, err := h.service.GetStatus(c.Context(), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, service.NewStatusResponse(report))
}
