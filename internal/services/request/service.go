// Package request provides shared request-handling utilities for the HTTP
// handlers.
package request

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// requestIDLocalKey is the shared key for storing the request ID in fiber locals
	requestIDLocalKey = "request_id"
	// maxRequestIDLength is the maximum allowed length for caller-supplied request IDs
	maxRequestIDLength = 256
)

// ID extracts the request ID from the X-Request-ID header, generating one
// when absent, and caches it in fiber locals for the rest of the request.
func ID(c *fiber.Ctx) string {
	if cached, ok := c.Locals(requestIDLocalKey).(string); ok && cached != "" {
		return cached
	}

	requestID := sanitize(c.Get("X-Request-ID"))
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}

	c.Locals(requestIDLocalKey, requestID)
	return requestID
}

func sanitize(reqID string) string {
	sanitized := strings.TrimSpace(reqID)
	if len(sanitized) > maxRequestIDLength {
		sanitized = sanitized[:maxRequestIDLength]
	}
	return sanitized
}
