package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/answerline/answerline-relay/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS usage_entries (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_usage_entries_created ON usage_entries(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.RequestID == "" {
		return errors.New("ledger record requires request id")
	}
	if entry.Kind == "" {
		return errors.New("ledger record requires kind")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_entries(request_id, kind, model, prompt_tokens, completion_tokens, created_at)
VALUES($1, $2, $3, $4, $5, $6)`,
		entry.RequestID,
		string(entry.Kind),
		entry.Model,
		entry.PromptTokens,
		entry.CompletionTokens,
		created,
	)
	return err
}

// Summary returns aggregated usage across all entries.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0)
FROM usage_entries`)

	var summary ledger.Summary
	if err := row.Scan(&summary.Requests, &summary.PromptTokens, &summary.CompletionTokens); err != nil {
		return ledger.Summary{}, err
	}
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens
	return summary, nil
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, kind, model, prompt_tokens, completion_tokens, created_at
FROM usage_entries
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.RequestID, &kind, &e.Model, &e.PromptTokens, &e.CompletionTokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
