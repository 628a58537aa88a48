package api

import (
	"errors"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"
	"github.com/quickmeds/gemini-relay/internal/services/relay"
	"github.com/quickmeds/gemini-relay/internal/services/request"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// generateBody is the wire form of a raw relay call.
type generateBody struct {
	Model             string        `json:"model"`
	SystemInstruction string        `json:"system_instruction"`
	Parts             []models.Part `json:"parts"`
	CacheKey          string        `json:"cache_key"`
	TTLSeconds        int           `json:"ttl_seconds"`
	MaxRetries        int           `json:"max_retries"`
	Label             string        `json:"label"`
}

// GenerateHandler exposes the relay directly for internal features that need
// more control than the chat endpoint offers.
type GenerateHandler struct {
	relay *relay.Service
}

// NewGenerateHandler creates a GenerateHandler.
func NewGenerateHandler(relaySvc *relay.Service) *GenerateHandler {
	return &GenerateHandler{relay: relaySvc}
}

// Generate handles POST /v1/generate.
func (h *GenerateHandler) Generate(c *fiber.Ctx) error {
	requestID := request.ID(c)
	fiberlog.Infof("[%s] Starting generate request from %s", requestID, c.IP())

	var body generateBody
	if err := c.BodyParser(&body); err != nil {
		fiberlog.Errorf("[%s] Failed to parse request: %v", requestID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{
				"message": "Invalid request format",
				"type":    "invalid_request_error",
			},
		})
	}

	text, err := h.relay.GenerateText(c.UserContext(), models.GenerateRequest{
		Model:             body.Model,
		SystemInstruction: body.SystemInstruction,
		Parts:             body.Parts,
		CacheKey:          body.CacheKey,
		TTL:               time.Duration(body.TTLSeconds) * time.Second,
		MaxRetries:        body.MaxRetries,
		Label:             body.Label,
	})
	if err != nil {
		fiberlog.Errorf("[%s] Generate failed: %v", requestID, err)
		appErr := asAppError(err)
		return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{
			"error": fiber.Map{
				"message": appErr.Message,
				"type":    string(appErr.Type),
				"code":    appErr.Code,
			},
		})
	}

	return c.JSON(models.GenerateResponse{
		Text:      text,
		RequestID: requestID,
	})
}

func asAppError(err error) *models.AppError {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.SanitizeError(err)
}
