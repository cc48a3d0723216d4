package handler

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/service"
	ws "github.com/stepdocs/api/internal/websocket"
)

type WebSocketHandler struct {
	hub    *ws.Hub
	status *service.StatusService
}

func NewWebSocketHandler(hub *ws.Hub, status *service.StatusService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, status: status}
}

// Upgrade rejects plain HTTP requests on websocket routes
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Job handles /ws/jobs/:jobId. The first message is the current status.
func (h *WebSocketHandler) Job() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		h.hub.HandleConnection(c, jobID, h.snapshot(jobID))
	})
}

func (h *WebSocketHandler) snapshot(jobID string) []byte {
	report, err := h.status.GetStatus(context.Background(), jobID)
	if err != nil {
		return nil
	}

	msg := model.WSProgressMessage{
		Type:    model.WSMessageTypeProgress,
		JobID:   jobID,
		Status:  report.Status,
		Message: report.Message(),
	}
	if report.Progress != nil {
		msg.Progress = report.Progress.Percent
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
