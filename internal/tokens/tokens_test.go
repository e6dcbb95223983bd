package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recap-gateway/internal/models"
)

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{}
	assert.Equal(t, 0, est.Count(""))
	assert.Equal(t, 1, est.Count("a"))
	assert.Equal(t, 3, est.Count("hello"))
	// Runes, not bytes.
	assert.Equal(t, 2, est.Count("你好世"))
}

func TestCL100KEstimator(t *testing.T) {
	est, err := New("cl100k")
	require.NoError(t, err)
	assert.Equal(t, "cl100k", est.Name())
	assert.Positive(t, est.Count("The quick brown fox jumps over the lazy dog."))
	assert.Zero(t, est.Count(""))
}

func TestNew(t *testing.T) {
	est, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "chars", est.Name())

	_, err = New("bpe")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	reported := &models.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}
	assert.Equal(t, *reported, Resolve(reported, "whatever", "", CharEstimator{}))

	estimated := Resolve(nil, "hello", "abc", nil)
	assert.True(t, estimated.Estimated)
	assert.Equal(t, 4, estimated.CompletionTokens)
	assert.Equal(t, 4, estimated.TotalTokens)

	partial := Resolve(&models.Usage{PromptTokens: 10}, "ab", "", CharEstimator{})
	assert.True(t, partial.Estimated)
	assert.Equal(t, 10, partial.PromptTokens)
	assert.Equal(t, 1, partial.CompletionTokens)
	assert.Equal(t, 11, partial.TotalTokens)
}

func TestMetrics(t *testing.T) {
	m := Metrics(200*time.Millisecond, 3*time.Second, 100)
	assert.Equal(t, 200*time.Millisecond, m.TTFT)
	assert.Equal(t, 3*time.Second, m.Elapsed)
	assert.InDelta(t, 33.33, m.TokensPerSecond, 1e-9)

	assert.Zero(t, Metrics(0, 0, 10).TokensPerSecond)
	assert.Zero(t, Metrics(0, time.Second, 0).TokensPerSecond)
}
