package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// sseRelay forwards a vendor's event stream to the client byte for byte.
type sseRelay struct {
	c echo.Context
}

func newSSERelay(c echo.Context) *sseRelay {
	return &sseRelay{c: c}
}

func (r *sseRelay) Start(provider string) error {
	resp := r.c.Response()
	header := resp.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set(providerHeader, provider)

	// Streams may outlive the server's write timeout.
	_ = http.NewResponseController(resp.Writer).SetWriteDeadline(time.Time{})

	resp.WriteHeader(http.StatusOK)
	return r.flush()
}

func (r *sseRelay) Write(p []byte) (int, error) {
	n, err := r.c.Response().Write(p)
	if err != nil {
		return n, err
	}
	return n, r.flush()
}

func (r *sseRelay) Fail(provider string, _ error) error {
	w := r.c.Response()
	// Terminates any partial line left by the upstream.
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := writeSSEEvent(w, "error", map[string]string{
		"error":    "upstream stream interrupted",
		"provider": provider,
	}); err != nil {
		return err
	}
	return r.flush()
}

func (r *sseRelay) flush() error {
	return http.NewResponseController(r.c.Response().Writer).Flush()
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
