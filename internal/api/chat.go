package api

import (
	"errors"

	"github.com/quickmeds/gemini-relay/internal/models"
	"github.com/quickmeds/gemini-relay/internal/services/chat"
	"github.com/quickmeds/gemini-relay/internal/services/request"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// ChatHandler serves the pharmacy-assistant conversation endpoint.
type ChatHandler struct {
	chatSvc *chat.Service
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatSvc *chat.Service) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc}
}

// Chat handles POST /v1/chat.
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	requestID := request.ID(c)
	fiberlog.Infof("[%s] Starting chat request from %s", requestID, c.IP())

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		fiberlog.Errorf("[%s] Failed to parse request: %v", requestID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{
				"message": "Invalid request format",
				"type":    "invalid_request_error",
			},
		})
	}

	reply, err := h.chatSvc.Respond(c.UserContext(), requestID, req.Messages)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Type == models.ErrorTypeValidation {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fiber.Map{
					"message": appErr.Message,
					"type":    string(appErr.Type),
				},
			})
		}

		// Degrade to a friendly reply instead of an error envelope so the
		// mobile client can always render something.
		fiberlog.Errorf("[%s] Chat failed, serving fallback reply: %v", requestID, err)
		return c.JSON(models.ChatResponse{
			Reply:     chat.UserMessage(err),
			RequestID: requestID,
		})
	}

	return c.JSON(models.ChatResponse{
		Reply:     reply,
		RequestID: requestID,
	})
}
