package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"recap-gateway/internal/config"
	"recap-gateway/internal/content"
	"recap-gateway/internal/ledger"
	"recap-gateway/internal/provider/factory"
	"recap-gateway/internal/router"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 45 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	content *content.Proxy
	ledger  ledger.Store
	logger  *slog.Logger
	app     *echo.Echo
	handler http.Handler
	address string
	now     func() time.Time
}

// New constructs an HTTP server wired with routing and middleware.
func New(gw *factory.Gateway, logger *slog.Logger) (*Server, error) {
	if gw == nil || gw.Router == nil {
		return nil, errors.New("router must not be nil")
	}
	if gw.Content == nil {
		return nil, errors.New("content proxy must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := gw.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(corsConfig(cfg.Server.AllowedOrigins)))
	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
			Store:   middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit)),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return requestError{Status: http.StatusTooManyRequests, Message: "rate limit exceeded", Type: "rate_limit_error"}
			},
		}))
	}

	srv := &Server{
		cfg:     cfg,
		router:  gw.Router,
		content: gw.Content,
		ledger:  gw.Ledger,
		logger:  logger,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		now:     time.Now,
	}

	srv.registerRoutes()
	srv.handler = otelhttp.NewHandler(e, "gateway")

	return srv, nil
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/chat/completions", s.handleChat)

	api := s.app.Group("/api", originGuard(s.cfg.Server.AllowedOrigins, s.logger))
	api.POST("/llm", s.handleChat)
	api.GET("/proxy", s.handleProxy)
	api.GET("/providers", s.handleProviders)
	api.GET("/usage", s.handleUsage)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func corsConfig(origins []string) middleware.CORSConfig {
	allowed := origins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowOrigins:     allowed,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestedWith, echo.HeaderXRequestID},
		ExposeHeaders:    []string{providerHeader, echo.HeaderXRequestID},
		AllowCredentials: len(origins) > 0,
	}
}

// originGuard rejects requests whose Origin is not listed and whose Referer does not
// start with a listed origin. An empty list admits everything.
func originGuard(origins []string, logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(origins) == 0 {
				return next(c)
			}
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			referer := c.Request().Referer()
			for _, allowed := range origins {
				if origin == allowed || (referer != "" && strings.HasPrefix(referer, allowed)) {
					return next(c)
				}
			}
			logger.Warn("rejected request origin", "origin", origin, "referer", referer, "uri", c.Request().RequestURI)
			return requestError{Status: http.StatusForbidden, Message: "Forbidden", Type: "forbidden"}
		}
	}
}

func decodeRequestBody[T any](c echo.Context, target *T, limit int64) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return requestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Type:    "invalid_request_error",
			}
		}
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("recap-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/llm")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  GET  /api/proxy?path=...")
	fmt.Println("  GET  /api/providers")
	fmt.Println("  GET  /api/usage")
	fmt.Printf("Example:\n  curl http://%s:%d/api/llm -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
