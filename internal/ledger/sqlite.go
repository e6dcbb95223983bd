package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"recap-gateway/internal/models"
)

// SQLite stores entries in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the ledger database at dsn.
func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite ledger requires a path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLite{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			request_id TEXT,
			provider TEXT,
			model TEXT,
			stream INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attempts TEXT NOT NULL,
			error TEXT,
			ttft_ns INTEGER NOT NULL DEFAULT 0,
			elapsed_ns INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	e = prepare(e)

	attempts, err := json.Marshal(e.Attempts)
	if err != nil {
		return fmt.Errorf("failed to marshal attempts: %w", err)
	}

	query := `INSERT INTO requests (id, request_id, provider, model, stream, status, attempts, error,
		ttft_ns, elapsed_ns, prompt_tokens, completion_tokens, total_tokens, estimated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.RequestID, e.Provider, e.Model, boolInt(e.Stream), string(e.Status), string(attempts), e.Error,
		int64(e.TTFT), int64(e.Elapsed),
		e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.TotalTokens, boolInt(e.Usage.Estimated),
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, request_id, provider, model, stream, status, attempts, error,
		ttft_ns, elapsed_ns, prompt_tokens, completion_tokens, total_tokens, estimated, created_at
		FROM requests ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                          Entry
			requestID, provider, model sql.NullString
			errText                    sql.NullString
			status, attempts           string
			stream, estimated          int
			ttft, elapsed, created     int64
		)
		if err := rows.Scan(&e.ID, &requestID, &provider, &model, &stream, &status, &attempts, &errText,
			&ttft, &elapsed, &e.Usage.PromptTokens, &e.Usage.CompletionTokens, &e.Usage.TotalTokens, &estimated,
			&created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(attempts), &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempts: %w", err)
		}
		if e.Attempts == nil {
			e.Attempts = []models.Attempt{}
		}
		e.RequestID = requestID.String
		e.Provider = provider.String
		e.Model = model.String
		e.Error = errText.String
		e.Stream = stream != 0
		e.Status = Status(status)
		e.TTFT = time.Duration(ttft)
		e.Elapsed = time.Duration(elapsed)
		e.Usage.Estimated = estimated != 0
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
