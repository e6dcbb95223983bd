package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"recap-gateway/internal/ledger"
	"recap-gateway/internal/models"
	"recap-gateway/internal/router"
	"recap-gateway/internal/translator"
)

const (
	providerHeader    = "X-LLM-Provider"
	defaultUsageLimit = 50
	maxUsageLimit     = 1000
)

func (s *Server) handleChat(c echo.Context) error {
	var req translator.GatewayRequest
	if err := decodeRequestBody(c, &req, s.cfg.Server.MaxBodyBytes); err != nil {
		return err
	}
	chatReq := req.ToChatRequest()
	if chatReq.Stream {
		return s.streamChat(c, chatReq)
	}

	ctx := c.Request().Context()
	result, err := s.router.Chat(ctx, chatReq)
	s.record(c, chatReq, result, err)
	if err != nil {
		return toHTTPError(err)
	}

	body, err := s.batchBody(result)
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set(providerHeader, result.Provider)
	return c.JSON(http.StatusOK, body)
}

// batchBody keeps the vendor's native completion when there is one. Estimated usage
// is added only where the vendor reported none.
func (s *Server) batchBody(result *models.ChatResult) (map[string]any, error) {
	if len(result.Raw) == 0 {
		return translator.FromResult(result, s.now().Unix()), nil
	}
	body, err := translator.AnnotateProvider(result.Raw, result.Provider)
	if err != nil {
		return nil, err
	}
	if _, ok := body["usage"]; !ok && result.Usage.Estimated {
		body["usage"] = result.Usage
	}
	return body, nil
}

func (s *Server) streamChat(c echo.Context, req models.ChatRequest) error {
	relay := newSSERelay(c)
	result, err := s.router.Stream(c.Request().Context(), req, router.StreamOptions{Relay: relay})
	s.record(c, req, result, err)

	if err == nil {
		return nil
	}
	var interrupted *router.StreamInterruptedError
	if errors.As(err, &interrupted) {
		// The relay already appended the failure event.
		return nil
	}
	if c.Response().Committed {
		s.logger.Debug("stream ended early", "error", err)
		return nil
	}
	return toHTTPError(err)
}

func (s *Server) handleProxy(c echo.Context) error {
	resp, err := s.content.Fetch(c.Request().Context(), c.QueryParam("path"))
	if err != nil {
		reqErr := contentError(err)
		if reqErr.Status == http.StatusBadGateway {
			s.logger.Error("content proxy failed", "error", err)
		}
		return reqErr
	}

	if resp.IsJSON() {
		return c.Blob(resp.Status, echo.MIMEApplicationJSON, resp.Body)
	}
	s.logger.Warn("content upstream returned non-JSON", "status", resp.Status, "content_type", resp.ContentType)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = echo.MIMETextPlainCharsetUTF8
	}
	return c.Blob(resp.Status, contentType, resp.Body)
}

func (s *Server) handleProviders(c echo.Context) error {
	registry := s.router.Registry()
	priority := registry.PriorityList()
	return c.JSON(http.StatusOK, map[string]any{
		"priority":  priority,
		"providers": translator.ProviderViews(registry.Vendors(), priority),
	})
}

func (s *Server) handleUsage(c echo.Context) error {
	if s.ledger == nil {
		return requestError{Status: http.StatusNotFound, Message: "request ledger is disabled", Type: "not_found"}
	}

	limit := defaultUsageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return requestError{Status: http.StatusBadRequest, Message: "limit must be a positive integer", Type: "invalid_request_error"}
		}
		limit = min(n, maxUsageLimit)
	}

	entries, err := s.ledger.List(c.Request().Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) record(c echo.Context, req models.ChatRequest, result *models.ChatResult, err error) {
	if s.ledger == nil {
		return
	}

	entry := ledger.Entry{
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		Stream:    req.Stream,
		Status:    ledger.StatusSucceeded,
	}
	if result != nil {
		entry.Provider = result.Provider
		entry.Model = result.Model
		entry.Attempts = result.Attempts
		entry.TTFT = result.Metrics.TTFT
		entry.Elapsed = result.Metrics.Elapsed
		entry.Usage = result.Usage
	}
	if err != nil {
		entry.Status = ledger.StatusFailed
		entry.Error = err.Error()

		var interrupted *router.StreamInterruptedError
		var exhausted *router.ExhaustedError
		switch {
		case errors.As(err, &interrupted):
			entry.Status = ledger.StatusInterrupted
			entry.Provider = interrupted.Provider
		case errors.As(err, &exhausted):
			entry.Attempts = exhausted.Attempts
		}
	}

	// Recording outlives a caller that already went away.
	ctx := context.WithoutCancel(c.Request().Context())
	if recErr := s.ledger.Record(ctx, entry); recErr != nil {
		s.logger.Warn("failed to record request", "error", recErr)
	}
}
