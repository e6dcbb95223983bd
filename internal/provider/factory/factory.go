package factory

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"recap-gateway/internal/config"
	"recap-gateway/internal/content"
	"recap-gateway/internal/ledger"
	"recap-gateway/internal/provider"
	openaiProvider "recap-gateway/internal/provider/openai"
	"recap-gateway/internal/router"
	"recap-gateway/internal/tokens"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Gateway bundles the components a front end needs to serve requests.
type Gateway struct {
	Config   config.Config
	Registry *provider.Registry
	Router   *router.Router
	Content  *content.Proxy
	// Ledger is nil when request recording is disabled.
	Ledger ledger.Store
}

// Build constructs the registry, transport, router, content proxy and ledger from configuration.
func Build(cfg config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	estimator, err := tokens.New(cfg.Gateway.TokenEstimator)
	if err != nil {
		return nil, fmt.Errorf("initialise token estimator: %w", err)
	}

	transport, err := openaiProvider.New(NewHTTPClient(0))
	if err != nil {
		return nil, fmt.Errorf("initialise vendor transport: %w", err)
	}

	registry := provider.NewRegistry(cfg)
	rt := router.New(registry, transport,
		router.WithLogger(logger),
		router.WithEstimator(estimator),
		router.WithTemperature(cfg.Gateway.Temperature),
	)

	proxy, err := content.New(cfg.Content, NewHTTPClient(0))
	if err != nil {
		return nil, fmt.Errorf("initialise content proxy: %w", err)
	}

	store, err := ledger.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open request ledger: %w", err)
	}

	return &Gateway{
		Config:   cfg,
		Registry: registry,
		Router:   rt,
		Content:  proxy,
		Ledger:   store,
	}, nil
}

// Close releases resources held by the gateway.
func (g *Gateway) Close() error {
	if g == nil || g.Ledger == nil {
		return nil
	}
	return g.Ledger.Close()
}

// NewHTTPClient returns a pooled, traced client. A zero timeout leaves deadlines to
// the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Compression is negotiated and decoded by the vendor transport itself.
		DisableCompression: true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
