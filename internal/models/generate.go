package models

import "time"

// Part is a single ordered piece of request content. Either Text is set, or
// Data together with MIMEType for inline binary payloads (prescription
// photos, product images).
type Part struct {
	Text     string `json:"text,omitzero"`
	MIMEType string `json:"mime_type,omitzero"`
	Data     []byte `json:"data,omitzero"`
}

// GenerateRequest describes one logical upstream generation call.
type GenerateRequest struct {
	// Model overrides the configured default model when non-empty.
	Model string `json:"model,omitzero"`
	// SystemInstruction is optional steering text sent alongside the parts.
	SystemInstruction string `json:"system_instruction,omitzero"`
	// Parts is the ordered request content. At least one part is required.
	Parts []Part `json:"parts"`
	// CacheKey enables result caching and in-flight de-duplication when
	// non-empty. Calls without a key are fully independent.
	CacheKey string `json:"cache_key,omitzero"`
	// TTL bounds how long a successful result stays cached. Zero means the
	// configured default (24h).
	TTL time.Duration `json:"-"`
	// MaxRetries bounds retries of transient failures beyond the first
	// attempt. Zero means the configured default (3).
	MaxRetries int `json:"max_retries,omitzero"`
	// Label names the operation in logs and errors.
	Label string `json:"label,omitzero"`
}

// Operation returns the diagnostics label, falling back to a generic name.
func (r *GenerateRequest) Operation() string {
	if r.Label != "" {
		return r.Label
	}
	return "generate"
}

// GenerateResponse is the HTTP projection of a successful generation.
type GenerateResponse struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id"`
}
