package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FranksOps/quill/internal/fingerprint"
)

const urlsetTmpl = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">%s</urlset>`

func urlset(locs ...string) string {
	var b strings.Builder
	for _, l := range locs {
		b.WriteString("<url><loc>" + l + "</loc><lastmod>2024-03-01</lastmod></url>")
	}
	return strings.Replace(urlsetTmpl, "%s", b.String(), 1)
}

func sitemapIndex(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		b.WriteString("<sitemap><loc>" + l + "</loc></sitemap>")
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

// serveSitemaps serves documents keyed by path; "{base}" is replaced with
// the server URL.
func serveSitemaps(t *testing.T, docs map[string]string) (*SitemapFetcher, string) {
	t.Helper()
	var base string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, strings.ReplaceAll(doc, "{base}", base))
	}))
	t.Cleanup(ts.Close)
	base = ts.URL

	fetcher, err := NewFetcher(FetchConfig{Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return NewSitemapFetcher(fetcher, slog.New(slog.NewTextHandler(io.Discard, nil))), base
}

func TestSitemapFetcher_FetchSitemap(t *testing.T) {
	tests := []struct {
		name string
		docs map[string]string
		want []string
	}{
		{
			name: "flat urlset",
			docs: map[string]string{
				"/sitemap.xml": urlset("https://blog.example/posts/a", "https://blog.example/posts/b"),
			},
			want: []string{"https://blog.example/posts/a", "https://blog.example/posts/b"},
		},
		{
			name: "index in document order",
			docs: map[string]string{
				"/sitemap.xml": sitemapIndex("{base}/posts-1.xml", "{base}/posts-2.xml"),
				"/posts-1.xml": urlset("https://blog.example/posts/a"),
				"/posts-2.xml": urlset("https://blog.example/posts/b", "https://blog.example/posts/c"),
			},
			want: []string{"https://blog.example/posts/a", "https://blog.example/posts/b", "https://blog.example/posts/c"},
		},
		{
			name: "duplicates across sitemaps",
			docs: map[string]string{
				"/sitemap.xml": sitemapIndex("{base}/posts-1.xml", "{base}/posts-2.xml"),
				"/posts-1.xml": urlset("https://blog.example/posts/a", "https://blog.example/posts/a"),
				"/posts-2.xml": urlset("https://blog.example/posts/a", "https://blog.example/posts/b"),
			},
			want: []string{"https://blog.example/posts/a", "https://blog.example/posts/b"},
		},
		{
			name: "broken nested sitemap is skipped",
			docs: map[string]string{
				"/sitemap.xml": sitemapIndex("{base}/gone.xml", "{base}/posts.xml"),
				"/posts.xml":   urlset("https://blog.example/posts/a"),
			},
			want: []string{"https://blog.example/posts/a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf, base := serveSitemaps(t, tt.docs)
			got, err := sf.FetchSitemap(context.Background(), base+"/sitemap.xml")
			if err != nil {
				t.Fatalf("FetchSitemap: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSitemapFetcher_NotASitemap(t *testing.T) {
	sf, base := serveSitemaps(t, map[string]string{"/sitemap.xml": "<html><body>blog</body></html>"})

	_, err := sf.FetchSitemap(context.Background(), base+"/sitemap.xml")
	if err == nil || !strings.Contains(err.Error(), "failed to parse as sitemap or index") {
		t.Errorf("expected parse error, got %v", err)
	}
}
