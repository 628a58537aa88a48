// Package gemini wraps the genai SDK behind the narrow upstream surface the
// relay needs: one text-producing generate call.
package gemini

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/quickmeds/gemini-relay/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

// Client performs GenerateContent calls against the Gemini API.
type Client struct {
	client *genai.Client
}

// NewClient builds a Gemini client for the given API key.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: client}, nil
}

// GenerateText sends one generation request and returns the concatenated
// candidate text. Errors are returned as-is so the caller can classify them.
func (c *Client) GenerateText(ctx context.Context, model, systemInstruction string, parts []models.Part) (string, error) {
	content := &genai.Content{
		Role:  genai.RoleUser,
		Parts: make([]*genai.Part, 0, len(parts)),
	}
	for _, p := range parts {
		if p.Data != nil {
			content.Parts = append(content.Parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data},
			})
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{Text: p.Text})
	}

	var config *genai.GenerateContentConfig
	if systemInstruction != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: systemInstruction}},
			},
		}
	}

	startTime := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, []*genai.Content{content}, config)
	duration := time.Since(startTime)

	if err != nil {
		fiberlog.Debugf("Gemini API request failed after %v: %v", duration, err)
		return "", err
	}

	fiberlog.Debugf("Gemini API request completed in %v", duration)
	return resp.Text(), nil
}

// configHash fingerprints the API key so rotated credentials get a fresh
// client without logging the key itself.
func configHash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%x", sum[:16])
}
