package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"recap-gateway/internal/content"
	"recap-gateway/internal/provider"
	"recap-gateway/internal/router"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Details string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeError(c echo.Context, reqErr requestError) error {
	return c.JSON(reqErr.Status, errorBody{
		Error:   reqErr.Message,
		Type:    reqErr.Type,
		Details: reqErr.Details,
	})
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
		_ = writeError(c, requestError{Status: he.Code, Message: message, Type: "invalid_request_error"})
		return
	}

	_ = writeError(c, requestError{Status: http.StatusInternalServerError, Message: "internal server error", Type: "server_error"})
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, provider.ErrUnknownProvider) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		details := ""
		if exhausted.Last != nil {
			details = exhausted.Last.Error()
		}
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "all providers failed",
			Type:    "upstream_error",
			Details: details,
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "request cancelled",
			Type:    "server_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
		Details: err.Error(),
	}
}

func contentError(err error) requestError {
	switch {
	case errors.Is(err, content.ErrMissingPath):
		return requestError{Status: http.StatusBadRequest, Message: "Missing path parameter", Type: "invalid_request_error"}
	case errors.Is(err, content.ErrInvalidPath):
		return requestError{Status: http.StatusBadRequest, Message: "Invalid path", Type: "invalid_request_error"}
	default:
		return requestError{Status: http.StatusBadGateway, Message: "Proxy error", Type: "upstream_error", Details: err.Error()}
	}
}
