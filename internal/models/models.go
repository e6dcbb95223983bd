package models

import (
	"encoding/json"
	"time"
)

// Roles accepted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTemperature is used when neither the caller nor the configuration sets one.
const DefaultTemperature = 0.7

// Message represents a single conversational message. Order within a conversation is
// replayed verbatim to the vendor.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single gateway call.
type ChatOptions struct {
	// MaxTokens overrides the vendor default when positive.
	MaxTokens int
	// Temperature is sent as-is; nil selects the configured default.
	Temperature *float64
	// Timeout overrides every candidate's deadline when positive.
	Timeout time.Duration
}

// ChatRequest is the vendor-agnostic input to the gateway.
type ChatRequest struct {
	Messages []Message
	Stream   bool
	// Provider pins the call to exactly one vendor.
	Provider string
	// AfterProvider rotates the priority list so candidates start after this vendor.
	AfterProvider string
	Options       ChatOptions
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// StreamFrame is one decoded increment of a streamed response.
type StreamFrame struct {
	Content   string
	Reasoning string
	// Usage is set only on the frame that carried counts.
	Usage *Usage
	// Model is the model name echoed by the vendor, when present.
	Model string
}

// ReasoningFormat classifies how a vendor exposed its reasoning text.
type ReasoningFormat string

const (
	ReasoningSeparateField ReasoningFormat = "separate-field"
	ReasoningInlineTag     ReasoningFormat = "inline-tag"
	ReasoningNone          ReasoningFormat = "none"
)

// Metrics captures call latency figures.
type Metrics struct {
	TTFT            time.Duration `json:"ttft"`
	Elapsed         time.Duration `json:"elapsed"`
	TokensPerSecond float64       `json:"tokens_per_second"`
}

// AttemptOutcome describes what happened to one candidate vendor.
type AttemptOutcome string

const (
	AttemptSkipped   AttemptOutcome = "skipped"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptSucceeded AttemptOutcome = "succeeded"
)

// Attempt records one candidate's outcome during failover.
type Attempt struct {
	Provider string         `json:"provider"`
	Outcome  AttemptOutcome `json:"outcome"`
	Kind     string         `json:"kind,omitempty"`
	Status   int            `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Elapsed  time.Duration  `json:"elapsed"`
}

// ChatResult is the assembled outcome of a completed gateway call.
type ChatResult struct {
	Content         string
	Reasoning       string
	ReasoningFormat ReasoningFormat
	Model           string
	Usage           Usage
	Metrics         Metrics
	// Provider is the vendor that actually served the result.
	Provider string
	Attempts []Attempt
	// Raw holds the vendor's native completion body for batch calls.
	Raw json.RawMessage
}
