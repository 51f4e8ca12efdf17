// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "documents"

// DocumentStoreConfig controls the Postgres connection pool used for documents.
type DocumentStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// DocumentStore persists accepted documents and serves the newest one as the
// next run's watermark.
type DocumentStore struct {
	pool  pool
	table string
}

// NewDocumentStore creates a Postgres-backed DocumentStore using the provided config.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: p, table: table}, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(p pool, table string) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the documents table when it does not exist.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id               TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	title            TEXT NOT NULL,
	abstract         TEXT NOT NULL,
	body_text        TEXT,
	publication_date TIMESTAMPTZ,
	web_link         TEXT NOT NULL,
	other_data       JSONB NOT NULL DEFAULT '{}',
	load_timestamp   TIMESTAMPTZ NOT NULL,
	identity_hash    TEXT NOT NULL UNIQUE,
	batch_started_at TIMESTAMPTZ NOT NULL,
	batch_position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_source_batch_idx ON %[1]s (source, batch_started_at DESC, batch_position)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveBatch inserts one run's documents in listing order inside a single
// transaction. Documents whose identity hash is already stored are ignored.
func (s *DocumentStore) SaveBatch(ctx context.Context, docs []crawler.Document) (err error) {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source,
	title,
	abstract,
	body_text,
	publication_date,
	web_link,
	other_data,
	load_timestamp,
	identity_hash,
	batch_started_at,
	batch_position
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (identity_hash) DO NOTHING`, s.table)

	batchStart := docs[0].LoadTimestamp
	for i, doc := range docs {
		otherData, mErr := marshalOtherData(doc.OtherData)
		if mErr != nil {
			return mErr
		}
		if _, err = tx.Exec(ctx, query,
			doc.ID,
			doc.Source,
			doc.Title,
			doc.Abstract,
			doc.Text,
			doc.PublicationDate,
			doc.WebLink,
			otherData,
			doc.LoadTimestamp,
			doc.IdentityHash,
			batchStart,
			i,
		); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Latest returns the newest listing document of the most recent stored batch
// for source, or nil when nothing has been stored yet.
func (s *DocumentStore) Latest(ctx context.Context, source string) (*crawler.Document, error) {
	query := fmt.Sprintf(`
SELECT id, source, title, abstract, body_text, publication_date, web_link, other_data, load_timestamp, identity_hash
FROM %s
WHERE source = $1
ORDER BY batch_started_at DESC, batch_position ASC
LIMIT 1`, s.table)

	var (
		doc       crawler.Document
		otherData []byte
	)
	err := s.pool.QueryRow(ctx, query, source).Scan(
		&doc.ID,
		&doc.Source,
		&doc.Title,
		&doc.Abstract,
		&doc.Text,
		&doc.PublicationDate,
		&doc.WebLink,
		&otherData,
		&doc.LoadTimestamp,
		&doc.IdentityHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest document: %w", err)
	}
	if len(otherData) > 0 {
		if err := json.Unmarshal(otherData, &doc.OtherData); err != nil {
			return nil, fmt.Errorf("decode other_data: %w", err)
		}
		if len(doc.OtherData) == 0 {
			doc.OtherData = nil
		}
	}
	return &doc, nil
}

func marshalOtherData(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return []byte(`{}`), nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal other_data: %w", err)
	}
	return out, nil
}
