package models

// ChatMessage is a single turn of the assistant conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse is the assistant reply.
type ChatResponse struct {
	Reply     string `json:"reply"`
	RequestID string `json:"request_id"`
}
