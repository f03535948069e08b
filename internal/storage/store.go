package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/google/uuid"
)

// Store adapts a Backend to the operations the optimization pipeline needs.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// FindSources returns original articles matching filter. IsOriginal is forced to true.
func (s *Store) FindSources(ctx context.Context, filter Filter) ([]*Article, error) {
	filter.IsOriginal = Bool(true)
	return s.backend.Query(ctx, filter)
}

// SaveSource stores a discovered article as an original. Empty ID and
// timestamps are filled in.
func (s *Store) SaveSource(ctx context.Context, a *Article) error {
	if err := validate(a); err != nil {
		return err
	}
	a.IsOriginal = true
	a.OriginalID = ""
	s.stamp(a)
	return s.backend.Create(ctx, a)
}

// CreateDerivative validates and stores an optimized article. The referenced
// source must exist at creation time.
func (s *Store) CreateDerivative(ctx context.Context, a *Article) (*Article, error) {
	if err := validate(a); err != nil {
		return nil, err
	}
	if a.OriginalID == "" {
		return nil, apperr.New(apperr.KindValidation, "storage.create_derivative", "originalArticleId is required")
	}

	src, err := s.backend.Get(ctx, a.OriginalID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.New(apperr.KindValidation, "storage.create_derivative",
				fmt.Sprintf("original article %s does not exist", a.OriginalID))
		}
		return nil, err
	}
	if !src.IsOriginal {
		return nil, apperr.New(apperr.KindValidation, "storage.create_derivative",
			fmt.Sprintf("article %s is not an original", a.OriginalID))
	}

	a.IsOriginal = false
	s.stamp(a)
	if err := s.backend.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) stamp(a *Article) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

func validate(a *Article) error {
	if a == nil {
		return apperr.New(apperr.KindValidation, "storage", "article is nil")
	}
	var missing []string
	if strings.TrimSpace(a.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(a.Content) == "" {
		missing = append(missing, "content")
	}
	if strings.TrimSpace(a.URL) == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindValidation, "storage", "missing "+strings.Join(missing, ", "))
	}
	return nil
}
