package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/FranksOps/quill/internal/apperr"
	"github.com/FranksOps/quill/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// jsonBackend keeps the articles in memory and mirrors them to an NDJSON
// file. Create appends a line; Update and Delete rewrite the file.
type jsonBackend struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	articles []*storage.Article
}

// New creates a new NDJSON-backed storage.Backend, loading any existing records.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}

	b := &jsonBackend{path: filePath, file: f}
	if err := b.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return b, nil
}

func (b *jsonBackend) load() error {
	scanner := bufio.NewScanner(b.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a storage.Article
		if err := json.Unmarshal(line, &a); err != nil {
			return fmt.Errorf("jsonbackend: decode %s: %w", b.path, err)
		}
		b.articles = append(b.articles, &a)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	return nil
}

func (b *jsonBackend) Create(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.articles {
		if existing.URL == a.URL {
			return apperr.New(apperr.KindConflict, "jsonbackend.create", fmt.Sprintf("article with url %s already exists", a.URL))
		}
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}

	cp := *a
	b.articles = append(b.articles, &cp)
	return nil
}

func (b *jsonBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range b.articles {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "jsonbackend.get", "article "+id)
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []*storage.Article
	for _, a := range b.articles {
		if filter.Matches(a) {
			cp := *a
			matched = append(matched, &cp)
		}
	}

	// Newest first; among equal timestamps the later write comes first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*storage.Article{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (b *jsonBackend) Update(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, existing := range b.articles {
		if existing.ID == a.ID {
			idx = i
			continue
		}
		if existing.URL == a.URL {
			return apperr.New(apperr.KindConflict, "jsonbackend.update", fmt.Sprintf("article with url %s already exists", a.URL))
		}
	}
	if idx < 0 {
		return apperr.New(apperr.KindNotFound, "jsonbackend.update", "article "+a.ID)
	}

	cp := *a
	cp.CreatedAt = b.articles[idx].CreatedAt
	cp.IsOriginal = b.articles[idx].IsOriginal
	cp.OriginalID = b.articles[idx].OriginalID
	b.articles[idx] = &cp
	return b.rewrite()
}

func (b *jsonBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	kept := b.articles[:0]
	for _, a := range b.articles {
		switch {
		case a.ID == id:
			found = true
		case a.OriginalID == id:
		default:
			kept = append(kept, a)
		}
	}
	if !found {
		return apperr.New(apperr.KindNotFound, "jsonbackend.delete", "article "+id)
	}
	b.articles = kept
	return b.rewrite()
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// rewrite replaces the file with the in-memory records. Callers hold mu.
func (b *jsonBackend) rewrite() error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".quill-*.jsonl")
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, a := range b.articles {
		if err := enc.Encode(a); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("jsonbackend: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonbackend: %w", err)
	}

	_ = b.file.Close()
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	b.file = f
	return nil
}
