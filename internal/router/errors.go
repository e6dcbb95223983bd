package router

import (
	"errors"
	"fmt"

	"recap-gateway/internal/models"
)

// ErrNoUsableProvider is the failure reported when every candidate was skipped.
var ErrNoUsableProvider = errors.New("no usable provider configured")

// ExhaustedError reports that no candidate produced a result. Its message is the last
// failure's message.
type ExhaustedError struct {
	Attempts []models.Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers failed: %v", e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// StreamInterruptedError reports an upstream failure after relaying began. It never
// triggers fallback because the caller already received partial output.
type StreamInterruptedError struct {
	Provider string
	Err      error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream from %s interrupted: %v", e.Provider, e.Err)
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.Err
}
