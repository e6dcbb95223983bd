package openai

import (
	"bytes"
	"encoding/json"
	"fmt"

	"recap-gateway/internal/models"
)

// Completion is a decoded batch response.
type Completion struct {
	Content   string
	Reasoning string
	Model     string
	// Usage is nil when the vendor reported no counts.
	Usage *models.Usage
	// Raw is the vendor's body, unmodified.
	Raw json.RawMessage
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toUsage converts vendor counts, filling a missing total. It returns nil when the
// vendor reported no output count.
func (u *usageBlock) toUsage() *models.Usage {
	if u == nil || u.CompletionTokens <= 0 {
		return nil
	}
	total := u.TotalTokens
	if total <= 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
	}
}

func decodeCompletion(body []byte) (*Completion, error) {
	var resp chatResponse
	if err := decodeJSON(bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider response did not include choices")
	}

	msg := resp.Choices[0].Message
	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}

	return &Completion{
		Content:   msg.Content,
		Reasoning: reasoning,
		Model:     resp.Model,
		Usage:     resp.Usage.toUsage(),
		Raw:       json.RawMessage(body),
	}, nil
}
