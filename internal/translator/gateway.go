package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"recap-gateway/internal/models"
)

var (
	errMissingMessages = errors.New("messages is required")
	errMessagesType    = errors.New("messages must be an array")
	errEmptyMessages   = errors.New("at least one message is required")
	errInvalidRole     = errors.New("invalid role")
	errInvalidContent  = errors.New("invalid message content")
	errMaxTokens       = errors.New("max_tokens must be positive")
	errTemperature     = errors.New("temperature must be within [0, 2]")
	errTimeout         = errors.New("timeout_ms must be positive")
)

var allowedRoles = map[string]struct{}{
	models.RoleSystem:    {},
	models.RoleUser:      {},
	models.RoleAssistant: {},
}

// ProviderField is added to batch responses to name the vendor that served them.
const ProviderField = "_provider"

// GatewayRequest models the inbound chat payload shared by /api/llm and
// /v1/chat/completions.
type GatewayRequest struct {
	Messages      []ChatMessage
	Stream        bool
	Provider      string
	AfterProvider string
	MaxTokens     *int
	Temperature   *float64
	TimeoutMS     *int
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *GatewayRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Messages      json.RawMessage `json:"messages"`
		Stream        bool            `json:"stream"`
		Provider      string          `json:"provider"`
		AfterProvider string          `json:"after_provider"`
		MaxTokens     *int            `json:"max_tokens"`
		Temperature   *float64        `json:"temperature"`
		TimeoutMS     *int            `json:"timeout_ms"`
		// Accepted for client compatibility; the serving vendor decides the model.
		Model string `json:"model"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	messages, err := parseMessages(raw.Messages)
	if err != nil {
		return err
	}

	r.Messages = messages
	r.Stream = raw.Stream
	r.Provider = strings.ToLower(strings.TrimSpace(raw.Provider))
	r.AfterProvider = strings.ToLower(strings.TrimSpace(raw.AfterProvider))
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TimeoutMS = raw.TimeoutMS

	return r.validate()
}

func parseMessages(raw json.RawMessage) ([]ChatMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errMissingMessages
	}
	if trimmed[0] != '[' {
		return nil, errMessagesType
	}

	var messages []ChatMessage
	if err := json.Unmarshal(trimmed, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *GatewayRequest) validate() error {
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errMaxTokens
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errTemperature
	}
	if r.TimeoutMS != nil && *r.TimeoutMS <= 0 {
		return errTimeout
	}
	return nil
}

// ToChatRequest converts the inbound payload into the gateway's request.
func (r GatewayRequest) ToChatRequest() models.ChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{Role: m.Role, Content: m.Content})
	}

	req := models.ChatRequest{
		Messages:      msgs,
		Stream:        r.Stream,
		Provider:      r.Provider,
		AfterProvider: r.AfterProvider,
	}
	if r.Provider != "" {
		req.AfterProvider = ""
	}
	if r.MaxTokens != nil {
		req.Options.MaxTokens = *r.MaxTokens
	}
	if r.Temperature != nil {
		t := *r.Temperature
		req.Options.Temperature = &t
	}
	if r.TimeoutMS != nil {
		req.Options.Timeout = time.Duration(*r.TimeoutMS) * time.Millisecond
	}
	return req
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %q", errInvalidRole, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// AnnotateProvider returns the vendor's native completion with the serving vendor
// added under ProviderField. Numbers keep their original representation.
func AnnotateProvider(raw json.RawMessage, provider string) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode vendor completion: %w", err)
	}
	if body == nil {
		body = make(map[string]any)
	}
	body[ProviderField] = provider
	return body, nil
}

// FromResult builds a chat-completions body for results that carry no native payload.
func FromResult(result *models.ChatResult, createdUnix int64) map[string]any {
	message := map[string]any{
		"role":    models.RoleAssistant,
		"content": result.Content,
	}
	if result.Reasoning != "" {
		message["reasoning_content"] = result.Reasoning
	}

	return map[string]any{
		"object":  "chat.completion",
		"created": createdUnix,
		"model":   result.Model,
		"choices": []any{map[string]any{
			"index":         0,
			"message":       message,
			"finish_reason": "stop",
		}},
		"usage":       result.Usage,
		ProviderField: result.Provider,
	}
}
