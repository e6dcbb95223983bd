package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recap-gateway/internal/config"
	"recap-gateway/internal/models"
	"recap-gateway/internal/provider"
)

func chatRequest(stream bool) models.ChatRequest {
	return models.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "hi"},
		},
		Stream: stream,
	}
}

func TestBuildPayloadDefaults(t *testing.T) {
	v := provider.Vendor{ID: "openai", Model: "gpt-4o", MaxTokens: 2048, Reasoning: provider.ReasoningNone}

	payload, err := BuildPayload(v, chatRequest(true), models.DefaultTemperature)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", payload.Model)
	assert.Equal(t, 2048, payload.MaxTokens)
	assert.InDelta(t, 0.7, payload.Temperature, 1e-9)
	assert.True(t, payload.Stream)
	assert.Equal(t, chatRequest(true).Messages, payload.Messages)
	assert.Nil(t, payload.EnableThinking)
	assert.Nil(t, payload.ThinkingBudget)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "enable_thinking")
	assert.NotContains(t, string(raw), "thinking_budget")
}

func TestBuildPayloadOverrides(t *testing.T) {
	v := provider.Vendor{ID: "qwen", Model: "qwen-plus", MaxTokens: 2048}
	temperature := 0.0
	req := chatRequest(false)
	req.Options = models.ChatOptions{MaxTokens: 512, Temperature: &temperature}

	payload, err := BuildPayload(v, req, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 512, payload.MaxTokens)
	assert.Zero(t, payload.Temperature)
	assert.False(t, payload.Stream)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"temperature":0`)
	assert.Contains(t, string(raw), `"stream":false`)
}

func TestBuildPayloadReasoningConventions(t *testing.T) {
	tests := []struct {
		mode       provider.ReasoningMode
		wantFlag   bool
		wantBudget bool
	}{
		{provider.ReasoningNone, false, false},
		{provider.ReasoningEnableFlag, true, false},
		{provider.ReasoningBudgetOnly, false, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			v := provider.Vendor{ID: "x", Model: "m", MaxTokens: 4096, Reasoning: tt.mode}
			payload, err := BuildPayload(v, chatRequest(false), 0.7)
			require.NoError(t, err)

			raw, err := json.Marshal(payload)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(raw, &fields))

			_, hasFlag := fields["enable_thinking"]
			_, hasBudget := fields["thinking_budget"]
			assert.Equal(t, tt.wantFlag, hasFlag)
			assert.Equal(t, tt.wantBudget, hasBudget)
			assert.False(t, hasFlag && hasBudget)

			if tt.wantFlag {
				assert.Equal(t, true, fields["enable_thinking"])
			}
			if tt.wantBudget {
				assert.EqualValues(t, 2048, fields["thinking_budget"])
			}
		})
	}
}

func TestBuildPayloadCatalogVendorsNeverCarryBothFields(t *testing.T) {
	r := provider.NewRegistry(config.Config{})
	for _, v := range r.Vendors() {
		payload, err := BuildPayload(v, chatRequest(true), 0.7)
		require.NoError(t, err)
		assert.False(t, payload.EnableThinking != nil && payload.ThinkingBudget != nil, v.ID)
	}

	kimi, _, err := r.Resolve("kimi")
	require.NoError(t, err)
	payload, err := BuildPayload(kimi, chatRequest(true), 0.7)
	require.NoError(t, err)
	require.NotNil(t, payload.ThinkingBudget)
	assert.Nil(t, payload.EnableThinking)
}

func TestBuildPayloadRejectsEmptyMessages(t *testing.T) {
	_, err := BuildPayload(provider.Vendor{Model: "m"}, models.ChatRequest{}, 0.7)
	assert.Error(t, err)
}

func TestBuildPayloadDoesNotAliasCallerMessages(t *testing.T) {
	req := chatRequest(false)
	payload, err := BuildPayload(provider.Vendor{Model: "m"}, req, 0.7)
	require.NoError(t, err)

	payload.Messages[0].Content = "changed"
	assert.Equal(t, "be brief", req.Messages[0].Content)
}
