// Package chat is the pharmacy-assistant conversation feature, the sole
// consumer of the relay inside this service. It owns the user-facing wording
// for every failure: the relay never decides what customers see.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/quickmeds/gemini-relay/internal/models"
	"github.com/quickmeds/gemini-relay/internal/services/cache"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	cacheNamespace = "chat"

	systemInstruction = "You are a helpful pharmacy assistant for a mobile app. " +
		"Answer questions about over-the-counter products, general medication usage, " +
		"dosage printed on packaging, and store services. Never diagnose conditions " +
		"or recommend prescription changes; instead advise speaking with a pharmacist. " +
		"Keep answers short and plain."

	// Fallback replies by failure mode.
	replyBusy        = "The assistant is handling a lot of questions right now. Please try again in a little while."
	replyUnavailable = "The assistant is temporarily unavailable. Please try again shortly."
)

// TextGenerator is the slice of the relay the chat feature needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, req models.GenerateRequest) (string, error)
}

// Service turns conversations into relay calls.
type Service struct {
	relay TextGenerator
}

// NewService creates the chat service.
func NewService(relay TextGenerator) *Service {
	return &Service{relay: relay}
}

// Respond generates the assistant reply for a conversation. Identical
// conversations share one cached reply via the relay's cache key.
func (s *Service) Respond(ctx context.Context, requestID string, messages []models.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", models.NewValidationError("at least one message is required", nil)
	}
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			return "", models.NewValidationError("messages must have non-empty content", nil)
		}
	}

	req := models.GenerateRequest{
		SystemInstruction: systemInstruction,
		Parts:             conversationParts(messages),
		CacheKey:          cache.Key(cacheNamespace, canonicalConversation(messages)),
		Label:             "chat",
	}

	fiberlog.Debugf("[%s] Chat: requesting reply for %d message(s)", requestID, len(messages))
	reply, err := s.relay.GenerateText(ctx, req)
	if err != nil {
		fiberlog.Warnf("[%s] Chat: generation failed: %v", requestID, err)
		return "", err
	}
	return reply, nil
}

// UserMessage converts a relay failure into the reply shown to the customer.
func UserMessage(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case models.ErrorTypeQuotaExceeded, models.ErrorTypeCooldownActive:
			return replyBusy
		}
	}
	return replyUnavailable
}

// canonicalConversation flattens messages into the stable string the cache
// key is hashed from. Role and content both participate so a user question
// and an identical assistant line never collide.
func canonicalConversation(messages []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(":")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// conversationParts renders each turn as one ordered text part.
func conversationParts(messages []models.ChatMessage) []models.Part {
	parts := make([]models.Part, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, models.Part{Text: m.Role + ": " + m.Content})
	}
	return parts
}
