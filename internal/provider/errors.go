package provider

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnknownProvider indicates the identifier is neither a built-in nor a configured vendor.
var ErrUnknownProvider = errors.New("unknown provider")

// FailureKind classifies why a vendor attempt failed.
type FailureKind string

const (
	KindTimeout    FailureKind = "timeout"
	KindHTTPStatus FailureKind = "http_status"
	KindTransport  FailureKind = "transport"
	KindDecode     FailureKind = "decode"
)

const maxErrorBody = 512

// VendorError describes one failed vendor attempt.
type VendorError struct {
	Provider   string
	Kind       FailureKind
	StatusCode int
	// Body holds the leading part of a non-2xx response body.
	Body string
	Err  error
}

func (e *VendorError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		body := strings.TrimSpace(e.Body)
		if len(body) > maxErrorBody {
			body = truncateRunes(body, maxErrorBody) + "..."
		}
		if body == "" {
			return fmt.Sprintf("%s: upstream returned status %d", e.Provider, e.StatusCode)
		}
		return fmt.Sprintf("%s: upstream returned status %d: %s", e.Provider, e.StatusCode, body)
	case KindTimeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
	}
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// KindOf reports the failure kind carried by err, or "" when err is not a vendor failure.
func KindOf(err error) FailureKind {
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Kind
	}
	return ""
}
