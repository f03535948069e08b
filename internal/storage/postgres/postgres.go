package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

const uniqueViolation = "23505"

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	optimized_content TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	is_original BOOLEAN NOT NULL,
	original_id TEXT NOT NULL DEFAULT '',
	refs JSONB NOT NULL DEFAULT '[]',
	word_count INTEGER NOT NULL DEFAULT 0,
	reading_minutes INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_original_id ON articles(original_id);
`

const columns = `id, title, content, optimized_content, url, author, published_at, is_original, original_id, refs, word_count, reading_minutes, created_at, updated_at`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Create(ctx context.Context, a *storage.Article) error {
	refs, err := json.Marshal(refsOf(a))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	query := `INSERT INTO articles (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = b.pool.Exec(ctx, query,
		a.ID, a.Title, a.Content, a.OptimizedContent, a.URL, a.Author, a.PublishedAt,
		a.IsOriginal, a.OriginalID, refs, a.WordCount, a.ReadingMinutes,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindConflict, "postgres.create", fmt.Sprintf("article with url %s already exists", a.URL))
		}
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (b *postgresBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+columns+` FROM articles WHERE id = $1`, id)
	a, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "postgres.get", "article "+id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	query := `SELECT ` + columns + ` FROM articles WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.IsOriginal != nil {
		query += fmt.Sprintf(` AND is_original = $%d`, paramCount)
		args = append(args, *filter.IsOriginal)
		paramCount++
	}
	if filter.OriginalID != "" {
		query += fmt.Sprintf(` AND original_id = $%d`, paramCount)
		args = append(args, filter.OriginalID)
		paramCount++
	}
	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, paramCount)
		args = append(args, filter.URL)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
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
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return results, nil
}

func (b *postgresBackend) Update(ctx context.Context, a *storage.Article) error {
	refs, err := json.Marshal(refsOf(a))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	tag, err := b.pool.Exec(ctx, `
	UPDATE articles SET title = $1, content = $2, optimized_content = $3, url = $4, author = $5,
		published_at = $6, refs = $7, word_count = $8, reading_minutes = $9, updated_at = $10
	WHERE id = $11`,
		a.Title, a.Content, a.OptimizedContent, a.URL, a.Author, a.PublishedAt, refs,
		a.WordCount, a.ReadingMinutes, a.UpdatedAt, a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindConflict, "postgres.update", fmt.Sprintf("article with url %s already exists", a.URL))
		}
		return fmt.Errorf("postgres: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.update", "article "+a.ID)
	}
	return nil
}

func (b *postgresBackend) Delete(ctx context.Context, id string) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM articles WHERE original_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete derivatives: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.delete", "article "+id)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func scan(row pgx.Row) (*storage.Article, error) {
	var a storage.Article
	var refs []byte

	err := row.Scan(
		&a.ID, &a.Title, &a.Content, &a.OptimizedContent, &a.URL, &a.Author, &a.PublishedAt,
		&a.IsOriginal, &a.OriginalID, &refs, &a.WordCount, &a.ReadingMinutes,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := json.Unmarshal(refs, &a.References); err != nil {
		return nil, fmt.Errorf("postgres: decode references: %w", err)
	}
	return &a, nil
}

func refsOf(a *storage.Article) []storage.Reference {
	if a.References == nil {
		return []storage.Reference{}
	}
	return a.References
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
