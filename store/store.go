// Package store wraps the documents table behind a pgx connection pool.
// Writes here are what seed the CDC stream consumed by the update service.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotFound marks a lookup of a document id that has no row.
	ErrNotFound = errors.New("document not found")
	// ErrNoFields marks an update that names nothing to change.
	ErrNoFields = errors.New("at least one of title or content must be provided")
)

// Document is one row of the documents table.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// documentColumns casts the uuid id to text so rows scan into Document
// directly.
const documentColumns = "id::text, title, content, version, created_at, updated_at"

// Store is a documents-table client. Connect establishes the pool.
type Store struct {
	cfg  *pgxpool.Config
	pool *pgxpool.Pool
}

// New parses |postgresURL| into a pool configuration bounded by
// |minConns| and |maxConns|.
func New(postgresURL string, minConns, maxConns int) (*Store, error) {
	var cfg, err = pgxpool.ParseConfig(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	cfg.MinConns = int32(minConns)
	cfg.MaxConns = int32(maxConns)
	return &Store{cfg: cfg}, nil
}

// Connect establishes the connection pool and verifies connectivity.
func (s *Store) Connect(ctx context.Context) error {
	var pool, err = pgxpool.NewWithConfig(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("creating postgres pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	s.pool = pool
	log.WithField("database", s.cfg.ConnConfig.Database).Info("connected to postgres")
	return nil
}

// Close releases the pool. Safe to call more than once.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
	s.pool = nil
}

// CountDocuments returns the total number of documents.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var count int
	var err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// ListDocuments returns up to |limit| documents ordered by most recent
// update, skipping |offset|.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	var rows, err = s.pool.Query(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY updated_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}
	defer rows.Close()

	var docs = []Document{}
	for rows.Next() {
		var d Document
		if err = rows.Scan(&d.ID, &d.Title, &d.Content, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}
	return docs, nil
}

// GetDocument fetches one document, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	var err = s.pool.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = $1::uuid", id).
		Scan(&d.ID, &d.Title, &d.Content, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	} else if err != nil {
		return Document{}, fmt.Errorf("fetching document: %w", err)
	}
	return d, nil
}

// CreateDocument inserts a document at version 1 and returns the stored
// row.
func (s *Store) CreateDocument(ctx context.Context, title, content string) (Document, error) {
	var d Document
	var err = s.pool.QueryRow(ctx,
		"INSERT INTO documents (title, content, version) VALUES ($1, $2, 1) RETURNING "+documentColumns,
		title, content).
		Scan(&d.ID, &d.Title, &d.Content, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("creating document: %w", err)
	}
	return d, nil
}

// buildUpdate renders the partial-update statement. Empty fields are
// treated as absent; the version column always increments.
func buildUpdate(id, title, content string) (string, []interface{}, error) {
	if title == "" && content == "" {
		return "", nil, ErrNoFields
	}
	var sets []string
	var args []interface{}
	if title != "" {
		args = append(args, title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if content != "" {
		args = append(args, content)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")
	args = append(args, id)

	var query = fmt.Sprintf("UPDATE documents SET %s WHERE id = $%d::uuid RETURNING %s",
		strings.Join(sets, ", "), len(args), documentColumns)
	return query, args, nil
}

// UpdateDocument applies a partial update, bumping the version. Returns
// ErrNoFields when nothing was provided and ErrNotFound for an unknown id.
func (s *Store) UpdateDocument(ctx context.Context, id, title, content string) (Document, error) {
	var query, args, err = buildUpdate(id, title, content)
	if err != nil {
		return Document{}, err
	}

	var d Document
	err = s.pool.QueryRow(ctx, query, args...).
		Scan(&d.ID, &d.Title, &d.Content, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	} else if err != nil {
		return Document{}, fmt.Errorf("updating document: %w", err)
	}
	return d, nil
}

// DeleteDocument removes a document, reporting whether a row was deleted.
func (s *Store) DeleteDocument(ctx context.Context, id string) (bool, error) {
	var tag, err = s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1::uuid", id)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Healthy verifies a round-trip through the pool.
func (s *Store) Healthy(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("not connected")
	}
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}
