// Package sqlite stores documents in an embedded SQLite database for
// single-node deployments that still need watermarks to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
)

// Connector opens the database. It exists so tests can hand in a sqlmock DB.
type Connector interface {
	Connect(ctx context.Context, driverName, dsn string) (*sqlx.DB, error)
}

// SQLXConnector connects with sqlx.
type SQLXConnector struct{}

// Connect opens and pings the database.
func (SQLXConnector) Connect(ctx context.Context, driverName, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driverName, err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	title            TEXT NOT NULL,
	abstract         TEXT NOT NULL,
	body_text        TEXT,
	publication_date TIMESTAMP,
	web_link         TEXT NOT NULL,
	other_data       TEXT NOT NULL DEFAULT '{}',
	load_timestamp   TIMESTAMP NOT NULL,
	identity_hash    TEXT NOT NULL UNIQUE,
	batch_started_at TIMESTAMP NOT NULL,
	batch_position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_source_batch_idx ON documents (source, batch_started_at DESC, batch_position)`

const insertDocument = `
INSERT OR IGNORE INTO documents (
	id, source, title, abstract, body_text, publication_date, web_link,
	other_data, load_timestamp, identity_hash, batch_started_at, batch_position
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectLatest = `
SELECT id, source, title, abstract, body_text, publication_date, web_link, other_data, load_timestamp, identity_hash
FROM documents
WHERE source = ?
ORDER BY batch_started_at DESC, batch_position ASC
LIMIT 1`

// DocumentStore implements crawler.DocumentStore on SQLite via sqlx.
type DocumentStore struct {
	DB *sqlx.DB
}

// NewDocumentStore opens path (a file name or SQLite URI) and creates the
// schema when missing.
func NewDocumentStore(ctx context.Context, path string, connector Connector) (*DocumentStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if connector == nil {
		connector = SQLXConnector{}
	}
	db, err := connector.Connect(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &DocumentStore{DB: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// SaveBatch inserts one run's documents in listing order inside a single
// transaction, ignoring identity hashes that are already stored.
func (s *DocumentStore) SaveBatch(ctx context.Context, docs []crawler.Document) (err error) {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	batchStart := docs[0].LoadTimestamp.UTC()
	for i, doc := range docs {
		otherData := []byte(`{}`)
		if len(doc.OtherData) > 0 {
			if otherData, err = json.Marshal(doc.OtherData); err != nil {
				return fmt.Errorf("marshal other_data: %w", err)
			}
		}
		var published any
		if doc.PublicationDate != nil {
			published = doc.PublicationDate.UTC()
		}
		if _, err = tx.ExecContext(ctx, insertDocument,
			doc.ID,
			doc.Source,
			doc.Title,
			doc.Abstract,
			doc.Text,
			published,
			doc.WebLink,
			string(otherData),
			doc.LoadTimestamp.UTC(),
			doc.IdentityHash,
			batchStart,
			i,
		); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

type documentRow struct {
	ID              string         `db:"id"`
	Source          string         `db:"source"`
	Title           string         `db:"title"`
	Abstract        string         `db:"abstract"`
	BodyText        sql.NullString `db:"body_text"`
	PublicationDate sql.NullTime   `db:"publication_date"`
	WebLink         string         `db:"web_link"`
	OtherData       string         `db:"other_data"`
	LoadTimestamp   time.Time      `db:"load_timestamp"`
	IdentityHash    string         `db:"identity_hash"`
}

// Latest returns the newest listing document of the most recent stored batch
// for source, or nil when nothing has been stored yet.
func (s *DocumentStore) Latest(ctx context.Context, source string) (*crawler.Document, error) {
	var row documentRow
	if err := s.DB.QueryRowxContext(ctx, selectLatest, source).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest document: %w", err)
	}

	doc := &crawler.Document{
		ID:            row.ID,
		Source:        row.Source,
		Title:         row.Title,
		Abstract:      row.Abstract,
		WebLink:       row.WebLink,
		LoadTimestamp: row.LoadTimestamp,
		IdentityHash:  row.IdentityHash,
	}
	if row.BodyText.Valid {
		text := row.BodyText.String
		doc.Text = &text
	}
	if row.PublicationDate.Valid {
		published := row.PublicationDate.Time
		doc.PublicationDate = &published
	}
	if row.OtherData != "" && row.OtherData != "{}" {
		if err := json.Unmarshal([]byte(row.OtherData), &doc.OtherData); err != nil {
			return nil, fmt.Errorf("decode other_data: %w", err)
		}
	}
	return doc, nil
}

// Close releases the database handle.
func (s *DocumentStore) Close() error {
	if err := s.DB.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite: %w", err)
	}
	return nil
}
