package factory

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recap-gateway/internal/config"
	"recap-gateway/internal/ledger"
	"recap-gateway/internal/models"
)

func baseConfig() config.Config {
	return config.Config{
		Gateway: config.GatewayConfig{Priority: []string{"deepseek", "kimi"}, Temperature: 0.5},
		Content: config.ContentConfig{BaseURL: config.DefaultContentBaseURL, AllowedPaths: config.DefaultAllowedPaths},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
	}
}

func TestBuild(t *testing.T) {
	gw, err := Build(baseConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	assert.NotNil(t, gw.Router)
	assert.NotNil(t, gw.Content)
	assert.IsType(t, &ledger.Memory{}, gw.Ledger)
	assert.Equal(t, []string{"deepseek", "kimi"}, gw.Registry.PriorityList())
}

func TestBuildTagsRouterLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	gw, err := Build(baseConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	// Neither vendor has a key, so both are skipped without any network call.
	_, err = gw.Router.Chat(context.Background(), models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, "component=router"), line)
	}
}

func TestBuildWithoutLedger(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage.Driver = config.StorageNone

	gw, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, gw.Ledger)
	assert.NoError(t, gw.Close())
}

func TestBuildRejectsUnknownEstimator(t *testing.T) {
	cfg := baseConfig()
	cfg.Gateway.TokenEstimator = "bpe-9000"

	_, err := Build(cfg, nil)
	assert.Error(t, err)
}

func TestNewHTTPClientLeavesDeadlinesToContext(t *testing.T) {
	client := NewHTTPClient(0)
	assert.Zero(t, client.Timeout)
	assert.NotNil(t, client.Transport)
}
