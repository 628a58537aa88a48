package api

import (
	"time"

	"github.com/quickmeds/gemini-relay/internal/services/quota"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	guard *quota.Guard
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(guard *quota.Guard) *HealthHandler {
	return &HealthHandler{guard: guard}
}

// HealthCheck returns the health status of the service. A quota cooldown is
// reported as degraded so monitors notice without probing the upstream.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	upstreamStatus := "healthy"
	overallStatus := "healthy"
	statusCode := fiber.StatusOK

	if h.guard.Active() {
		upstreamStatus = "quota_cooldown"
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"upstream": upstreamStatus,
		},
	})
}
