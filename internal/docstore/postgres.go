package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_by TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// The WHERE clause on the conflict branch makes a stale save touch no rows.
const upsertDocument = `
INSERT INTO documents (id, content, version, updated_by)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content, version = EXCLUDED.version,
    updated_by = EXCLUDED.updated_by, updated_at = now()
WHERE documents.version <= EXCLUDED.version`

// Postgres stores documents in a single table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dbURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, dbURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Fetch(ctx context.Context, docID string, _ Credentials) (Document, error) {
	doc := Document{ID: docID}
	err := p.pool.QueryRow(ctx,
		`SELECT content, version FROM documents WHERE id = $1`, docID,
	).Scan(&doc.Text, &doc.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", docID, err)
	}
	return doc, nil
}

func (p *Postgres) Save(ctx context.Context, docID, text string, version int, creds Credentials) error {
	tag, err := p.pool.Exec(ctx, upsertDocument, docID, text, version, creds.UserID)
	if err != nil {
		return fmt.Errorf("save %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
