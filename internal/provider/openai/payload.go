package openai

import (
	"errors"

	"recap-gateway/internal/models"
	"recap-gateway/internal/provider"
)

// Payload is the chat-completions request body.
type Payload struct {
	Model          string           `json:"model"`
	Messages       []models.Message `json:"messages"`
	MaxTokens      int              `json:"max_tokens"`
	Temperature    float64          `json:"temperature"`
	Stream         bool             `json:"stream"`
	EnableThinking *bool            `json:"enable_thinking,omitempty"`
	ThinkingBudget *int             `json:"thinking_budget,omitempty"`
}

// BuildPayload shapes a request for the vendor. Messages are sent in caller order.
// Reasoning fields follow the vendor's convention; enable_thinking and
// thinking_budget are never both set.
func BuildPayload(v provider.Vendor, req models.ChatRequest, defaultTemperature float64) (Payload, error) {
	if len(req.Messages) == 0 {
		return Payload{}, errors.New("messages must not be empty")
	}

	messages := make([]models.Message, len(req.Messages))
	copy(messages, req.Messages)

	payload := Payload{
		Model:       v.Model,
		Messages:    messages,
		MaxTokens:   v.MaxTokens,
		Temperature: defaultTemperature,
		Stream:      req.Stream,
	}

	if req.Options.MaxTokens > 0 {
		payload.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		payload.Temperature = *req.Options.Temperature
	}

	switch v.Reasoning {
	case provider.ReasoningEnableFlag:
		enabled := true
		payload.EnableThinking = &enabled
	case provider.ReasoningBudgetOnly:
		budget := provider.ThinkingBudget
		payload.ThinkingBudget = &budget
	}

	return payload, nil
}
