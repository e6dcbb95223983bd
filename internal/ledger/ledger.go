// Package ledger records the outcome of every gateway call for later inspection.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recap-gateway/internal/config"
	"recap-gateway/internal/models"
)

// Status is the final state of a recorded call.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Entry is one recorded gateway call.
type Entry struct {
	ID        string           `json:"id"`
	RequestID string           `json:"request_id,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	Stream    bool             `json:"stream"`
	Status    Status           `json:"status"`
	Attempts  []models.Attempt `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	TTFT      time.Duration    `json:"ttft"`
	Elapsed   time.Duration    `json:"elapsed"`
	Usage     models.Usage     `json:"usage"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	Record(ctx context.Context, e Entry) error
	// List returns up to limit entries, newest first. A non-positive limit returns all.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open returns the store selected by cfg, or nil when recording is disabled.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.StorageNone:
		return nil, nil
	case config.StorageMemory:
		return NewMemory(DefaultMemoryCapacity), nil
	case config.StorageSQLite:
		return NewSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// prepare fills the identifier and timestamp of a fresh entry.
func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e
}
