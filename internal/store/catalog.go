// Package store persists the chunk catalog: the authoritative copy of
// every ingested chunk, keyed by chunk ID and grouped by collection.
// Index rebuilds and passage enrichment both read from here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/citeseek/citeseek/internal/chunk"
	cserr "github.com/citeseek/citeseek/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id                 TEXT PRIMARY KEY,
    collection         TEXT NOT NULL,
    source_document_id TEXT NOT NULL,
    text               TEXT NOT NULL,
    start_offset       INTEGER NOT NULL,
    end_offset         INTEGER NOT NULL,
    sequence           INTEGER NOT NULL,
    metadata           TEXT NOT NULL DEFAULT '{}',
    updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(collection, source_document_id);
`

// Catalog is a SQLite-backed chunk store.
type Catalog struct {
	db   *sql.DB
	path string
}

// NewCatalog opens (or creates) the catalog database at path. An empty
// path creates an in-memory catalog for testing. WAL mode plus a
// single-connection pool keeps writers from tripping over each other.
func NewCatalog(path string) (*Catalog, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("create catalog directory: %w", err))
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("open catalog: %w", err))
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("set pragma: %w", err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("create catalog schema: %w", err))
	}

	slog.Debug("chunk_catalog_opened", slog.String("path", path))
	return &Catalog{db: db, path: path}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// SaveChunks upserts chunks in one transaction.
func (c *Catalog) SaveChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertChunks(ctx, tx, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("commit chunks: %w", err))
	}
	return nil
}

// ReplaceDocument swaps a document's chunks in one transaction: prior
// rows are deleted before the new set is inserted, so a document that
// shrinks on re-ingestion cannot leave stale high-sequence chunks
// behind.
func (c *Catalog) ReplaceDocument(ctx context.Context, collection, sourceDocumentID string, chunks []chunk.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND source_document_id = ?`,
		collection, sourceDocumentID); err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("clear document %s: %w", sourceDocumentID, err))
	}

	if err := upsertChunks(ctx, tx, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("commit document replace: %w", err))
	}
	return nil
}

func upsertChunks(ctx context.Context, tx *sql.Tx, chunks []chunk.Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, collection, source_document_id, text,
		                    start_offset, end_offset, sequence, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    collection = excluded.collection,
		    source_document_id = excluded.source_document_id,
		    text = excluded.text,
		    start_offset = excluded.start_offset,
		    end_offset = excluded.end_offset,
		    sequence = excluded.sequence,
		    metadata = excluded.metadata,
		    updated_at = excluded.updated_at`)
	if err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("prepare upsert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("encode metadata for chunk %s: %w", ch.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Collection, ch.SourceDocumentID,
			ch.Text, ch.StartOffset, ch.EndOffset, ch.Sequence, string(meta), now); err != nil {
			return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("save chunk %s: %w", ch.ID, err))
		}
	}
	return nil
}

// DeleteDocument removes every chunk of one source document, returning
// how many chunks were removed.
func (c *Catalog) DeleteDocument(ctx context.Context, collection, sourceDocumentID string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE collection = ? AND source_document_id = ?`,
		collection, sourceDocumentID)
	if err != nil {
		return 0, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("delete document %s: %w", sourceDocumentID, err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteCollection removes every chunk in collection. Unknown
// collections delete zero rows without error.
func (c *Catalog) DeleteCollection(ctx context.Context, collection string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection)
	if err != nil {
		return 0, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("delete collection %s: %w", collection, err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetChunks fetches chunks by ID, preserving the order of ids. Unknown
// IDs are skipped rather than failing the batch.
func (c *Catalog) GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return []chunk.Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, collection, source_document_id, text, start_offset, end_offset, sequence, metadata
		   FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("get chunks: %w", err))
	}
	defer rows.Close()

	byID := make(map[string]chunk.Chunk, len(ids))
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[ch.ID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("scan chunks: %w", err))
	}

	out := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// ChunksByCollection returns every chunk in collection ordered by
// source document then sequence.
func (c *Catalog) ChunksByCollection(ctx context.Context, collection string) ([]chunk.Chunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, collection, source_document_id, text, start_offset, end_offset, sequence, metadata
		   FROM chunks WHERE collection = ?
		  ORDER BY source_document_id, sequence`, collection)
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("list chunks for %s: %w", collection, err))
	}
	defer rows.Close()

	var out []chunk.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("scan chunks: %w", err))
	}
	return out, nil
}

// ListCollections returns every collection name in the catalog, sorted.
func (c *Catalog) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM chunks ORDER BY collection`)
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("list collections: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("scan collection: %w", err))
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CountByCollection returns chunk counts keyed by collection name.
func (c *Catalog) CountByCollection(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM chunks GROUP BY collection`)
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("count chunks: %w", err))
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("scan count: %w", err))
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Ping verifies the database is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func scanChunk(rows *sql.Rows) (chunk.Chunk, error) {
	var ch chunk.Chunk
	var meta string
	if err := rows.Scan(&ch.ID, &ch.Collection, &ch.SourceDocumentID, &ch.Text,
		&ch.StartOffset, &ch.EndOffset, &ch.Sequence, &meta); err != nil {
		return chunk.Chunk{}, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("scan chunk: %w", err))
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return chunk.Chunk{}, cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("decode metadata for %s: %w", ch.ID, err))
		}
	}
	return ch, nil
}
