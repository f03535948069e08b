package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	optimized_content TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL DEFAULT '',
	published_at DATETIME,
	is_original BOOLEAN NOT NULL,
	original_id TEXT NOT NULL DEFAULT '',
	refs TEXT NOT NULL DEFAULT '[]',
	word_count INTEGER NOT NULL DEFAULT 0,
	reading_minutes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_original_id ON articles(original_id);
`

const columns = `id, title, content, optimized_content, url, author, published_at, is_original, original_id, refs, word_count, reading_minutes, created_at, updated_at`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Create(ctx context.Context, a *storage.Article) error {
	refs, err := json.Marshal(a.References)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	query := `INSERT INTO articles (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = b.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Content, a.OptimizedContent, a.URL, a.Author, nullTime(a),
		a.IsOriginal, a.OriginalID, string(refs), a.WordCount, a.ReadingMinutes,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.New(apperr.KindConflict, "sqlite.create", fmt.Sprintf("article with url %s already exists", a.URL))
		}
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+columns+` FROM articles WHERE id = ?`, id)
	a, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "sqlite.get", "article "+id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	query := `SELECT ` + columns + ` FROM articles WHERE 1=1`
	args := []any{}

	if filter.IsOriginal != nil {
		query += ` AND is_original = ?`
		args = append(args, *filter.IsOriginal)
	}
	if filter.OriginalID != "" {
		query += ` AND original_id = ?`
		args = append(args, filter.OriginalID)
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	var results []*storage.Article
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return results, nil
}

func (b *sqliteBackend) Update(ctx context.Context, a *storage.Article) error {
	refs, err := json.Marshal(a.References)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	res, err := b.db.ExecContext(ctx, `
	UPDATE articles SET title = ?, content = ?, optimized_content = ?, url = ?, author = ?,
		published_at = ?, refs = ?, word_count = ?, reading_minutes = ?, updated_at = ?
	WHERE id = ?`,
		a.Title, a.Content, a.OptimizedContent, a.URL, a.Author, nullTime(a), string(refs),
		a.WordCount, a.ReadingMinutes, a.UpdatedAt, a.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.New(apperr.KindConflict, "sqlite.update", fmt.Sprintf("article with url %s already exists", a.URL))
		}
		return fmt.Errorf("sqlite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "sqlite.update", "article "+a.ID)
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE original_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete derivatives: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "sqlite.delete", "article "+id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*storage.Article, error) {
	var a storage.Article
	var published sql.NullTime
	var refs string

	err := s.Scan(
		&a.ID, &a.Title, &a.Content, &a.OptimizedContent, &a.URL, &a.Author, &published,
		&a.IsOriginal, &a.OriginalID, &refs, &a.WordCount, &a.ReadingMinutes,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if published.Valid {
		t := published.Time
		a.PublishedAt = &t
	}
	if err := json.Unmarshal([]byte(refs), &a.References); err != nil {
		return nil, fmt.Errorf("sqlite: decode references: %w", err)
	}
	return &a, nil
}

func nullTime(a *storage.Article) any {
	if a.PublishedAt == nil {
		return nil
	}
	return *a.PublishedAt
}
