package storage

import (
	"context"
	"time"
)

// Reference is a title/URL pair cited by an optimized article.
type Reference struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Article is a stored article. Sources have IsOriginal set; optimized
// derivatives carry OriginalID and OptimizedContent.
type Article struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Content          string      `json:"content"`
	OptimizedContent string      `json:"optimizedContent,omitempty"`
	URL              string      `json:"url"`
	Author           string      `json:"author,omitempty"`
	PublishedAt      *time.Time  `json:"publishedAt,omitempty"`
	IsOriginal       bool        `json:"isOriginal"`
	OriginalID       string      `json:"originalArticleId,omitempty"`
	References       []Reference `json:"references,omitempty"`
	WordCount        int         `json:"wordCount,omitempty"`
	ReadingMinutes   int         `json:"readingMinutes,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Filter selects articles. Zero values match everything.
type Filter struct {
	IsOriginal *bool
	OriginalID string
	URL        string
	Since      *time.Time
	Limit      int
	Offset     int
}

// Matches reports whether a satisfies the filter's predicates (not Limit/Offset).
func (f Filter) Matches(a *Article) bool {
	if f.IsOriginal != nil && a.IsOriginal != *f.IsOriginal {
		return false
	}
	if f.OriginalID != "" && a.OriginalID != f.OriginalID {
		return false
	}
	if f.URL != "" && a.URL != f.URL {
		return false
	}
	if f.Since != nil && a.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Backend defines the article document store. Results of Query are ordered
// by CreatedAt descending. Create rejects duplicate URLs with a conflict
// error; Delete of a source also deletes its derivatives.
type Backend interface {
	Create(ctx context.Context, a *Article) error
	Get(ctx context.Context, id string) (*Article, error)
	Query(ctx context.Context, filter Filter) ([]*Article, error)
	Update(ctx context.Context, a *Article) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Bool returns a pointer to b, for Filter.IsOriginal.
func Bool(b bool) *bool {
	return &b
}
